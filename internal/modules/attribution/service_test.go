package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	"github.com/yungbote/adpilot-backend/internal/data/repos/testutil"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/modules/revenue"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
)

type fixture struct {
	svc      *Service
	adStates repos.AdStateRepo
	now      time.Time
}

func newFixture(t *testing.T, ads ...string) fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	adStates := repos.NewAdStateRepo(db, log)
	now := time.Now().UTC().Truncate(time.Second)
	for _, ad := range ads {
		_, err := adStates.ApplySnapshot(dbctx.Background(context.Background()), repos.Snapshot{
			TenantID: "t1", CampaignID: "c1", AdID: ad,
			Spend: decimal.NewFromInt(50), Impressions: 1000, Clicks: 20,
			ObservedAt: now.Add(-72 * time.Hour),
		})
		require.NoError(t, err)
	}
	svc := NewService(db, log,
		repos.NewClickEventRepo(db, log),
		repos.NewAttributionRecordRepo(db, log),
		adStates,
		revenue.NewCalculator(log, nil, time.Minute, 16),
		nil,
		DefaultOptions(),
	)
	svc.now = func() time.Time { return now }
	return fixture{svc: svc, adStates: adStates, now: now}
}

func (f fixture) ad(t *testing.T, id string) *types.AdState {
	t.Helper()
	st, err := f.adStates.GetByAdID(dbctx.Background(context.Background()), id)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func money(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

var laptop = Device{Screen: "1920x1080", Timezone: "Europe/Berlin", Device: "desktop", OS: "macOS", Browser: "Firefox"}

func TestAttribute_ExactClickID(t *testing.T) {
	f := newFixture(t, "ad-1")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{TenantID: "t1", ClickID: "gclid-1", AdID: "ad-1", ClickedAt: f.now.Add(-3 * time.Hour)})
	require.NoError(t, err)

	res, err := f.svc.Attribute(ctx, Conversion{
		TenantID: "t1", ConversionID: "order-1", Kind: types.ConversionPurchase,
		ClickID: "gclid-1", Value: money(200), OccurredAt: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MethodExact, res.Method)
	assert.Equal(t, "ad-1", res.AdID)
	assert.Equal(t, 1.0, res.Confidence)
	assert.True(t, res.AttributedValue.Equal(decimal.NewFromInt(200)))
	assert.True(t, res.Credited)
	assert.True(t, f.ad(t, "ad-1").CashRevenue.Equal(decimal.NewFromInt(200)))
}

func TestAttribute_FingerprintBeatsProbabilistic(t *testing.T) {
	f := newFixture(t, "ad-fp", "ad-prob")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{
		TenantID: "t1", AdID: "ad-fp", Device: laptop,
		IP: "10.0.0.9", UserAgent: "other-agent", ClickedAt: f.now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.RecordClick(ctx, Click{
		TenantID: "t1", AdID: "ad-prob",
		IP: "203.0.113.7", UserAgent: "Mozilla/5.0", ClickedAt: f.now.Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	res, err := f.svc.Attribute(ctx, Conversion{
		TenantID: "t1", ConversionID: "lead-1", Kind: types.ConversionStageChange,
		ToStage: types.StageLead, Device: laptop,
		IP: "203.0.113.7", UserAgent: "Mozilla/5.0", OccurredAt: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MethodFingerprint, res.Method)
	assert.Equal(t, "ad-fp", res.AdID)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestAttribute_FingerprintWindow(t *testing.T) {
	f := newFixture(t, "ad-old")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{TenantID: "t1", AdID: "ad-old", Device: laptop, ClickedAt: f.now.Add(-8 * 24 * time.Hour)})
	require.NoError(t, err)

	res, err := f.svc.Attribute(ctx, Conversion{
		TenantID: "t1", ConversionID: "lead-old", Kind: types.ConversionStageChange,
		ToStage: types.StageLead, Device: laptop, OccurredAt: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MethodUnattributed, res.Method)
}

func TestAttribute_ProbabilisticCapsConfidence(t *testing.T) {
	f := newFixture(t, "ad-2")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{
		TenantID: "t1", AdID: "ad-2", IP: "198.51.100.4", UserAgent: "Mozilla/5.0", ClickedAt: f.now.Add(-1 * time.Hour),
	})
	require.NoError(t, err)

	res, err := f.svc.Attribute(ctx, Conversion{
		TenantID: "t1", ConversionID: "deal-9", Kind: types.ConversionStageChange,
		FromStage: types.StageLead, ToStage: types.StageQualified,
		IP: "198.51.100.4", UserAgent: "Mozilla/5.0", OccurredAt: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MethodProbabilistic, res.Method)
	assert.Equal(t, "ad-2", res.AdID)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.Greater(t, res.MatchScore, 0.9)
	// 125 stage delta x 0.7 match confidence x 0.5 stage confidence
	assert.True(t, res.AttributedValue.Equal(decimal.RequireFromString("43.75")), "got %s", res.AttributedValue)
	assert.True(t, f.ad(t, "ad-2").PipelineValue.Equal(decimal.RequireFromString("43.75")))
}

func TestAttribute_ProbabilisticBelowThresholdIsUnattributed(t *testing.T) {
	f := newFixture(t, "ad-3")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{
		TenantID: "t1", AdID: "ad-3", IP: "192.0.2.1", UserAgent: "Mozilla/5.0", ClickedAt: f.now.Add(-time.Minute),
	})
	require.NoError(t, err)

	res, err := f.svc.Attribute(ctx, Conversion{
		TenantID: "t1", ConversionID: "p-1", Kind: types.ConversionPurchase, Value: money(80),
		IP: "192.0.2.99", UserAgent: "Mozilla/5.0", OccurredAt: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MethodUnattributed, res.Method)
	assert.False(t, res.Attributed())
	assert.True(t, res.AttributedValue.IsZero())
	assert.True(t, f.ad(t, "ad-3").CashRevenue.IsZero())
}

func TestAttribute_IdempotentAndClickUsedOnce(t *testing.T) {
	f := newFixture(t, "ad-4")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{TenantID: "t1", ClickID: "fbclid-4", AdID: "ad-4", ClickedAt: f.now.Add(-time.Hour)})
	require.NoError(t, err)

	conv := Conversion{
		TenantID: "t1", ConversionID: "order-4", Kind: types.ConversionPurchase,
		ClickID: "fbclid-4", Value: money(100), OccurredAt: f.now,
	}
	first, err := f.svc.Attribute(ctx, conv)
	require.NoError(t, err)
	again, err := f.svc.Attribute(ctx, conv)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Method, again.Method)
	assert.True(t, f.ad(t, "ad-4").CashRevenue.Equal(decimal.NewFromInt(100)), "no double credit")

	conv.ConversionID = "order-5"
	other, err := f.svc.Attribute(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, types.MethodUnattributed, other.Method, "a click matches at most one conversion")
}

func TestAttribute_NegativeStageDeltaNeverDecreasesTotals(t *testing.T) {
	f := newFixture(t, "ad-5")
	ctx := context.Background()
	_, err := f.svc.RecordClick(ctx, Click{TenantID: "t1", ClickID: "c-5", AdID: "ad-5", ClickedAt: f.now.Add(-time.Hour)})
	require.NoError(t, err)

	res, err := f.svc.Attribute(ctx, Conversion{
		TenantID: "t1", ConversionID: "deal-5-lost", Kind: types.ConversionStageChange,
		ClickID: "c-5", FromStage: types.StageNegotiation, ToStage: types.StageLost, OccurredAt: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.MethodExact, res.Method)
	assert.True(t, res.AttributedValue.IsNegative())
	assert.False(t, res.Credited)
	assert.True(t, f.ad(t, "ad-5").PipelineValue.IsZero())
}

func TestAttribute_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Attribute(ctx, Conversion{TenantID: "t1", Kind: types.ConversionPurchase, Value: money(1)})
	require.ErrorIs(t, err, ErrInvalidConversion)
	_, err = f.svc.Attribute(ctx, Conversion{TenantID: "t1", ConversionID: "x", Kind: types.ConversionPurchase})
	require.ErrorIs(t, err, ErrInvalidConversion)
	_, err = f.svc.Attribute(ctx, Conversion{TenantID: "t1", ConversionID: "x", Kind: "refund"})
	require.ErrorIs(t, err, ErrInvalidConversion)
	_, err = f.svc.Attribute(ctx, Conversion{TenantID: "t1", ConversionID: "x", Kind: types.ConversionStageChange, ToStage: "unicorn"})
	require.ErrorIs(t, err, ErrInvalidConversion)
	_, err = f.svc.RecordClick(ctx, Click{TenantID: "t1"})
	require.ErrorIs(t, err, ErrInvalidClick)
}

func TestProbabilisticScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &types.ClickEvent{IP: "1.1.1.1", UserAgent: "ua", ClickedAt: now.Add(-12 * time.Hour)}
	assert.InDelta(t, 0.9, ProbabilisticScore(ev, "1.1.1.1", "ua", now, 24*time.Hour), 1e-9)
	assert.InDelta(t, 0.6, ProbabilisticScore(ev, "1.1.1.1", "", now, 24*time.Hour), 1e-9)
	assert.InDelta(t, 0.4, ProbabilisticScore(ev, "", "ua", now, 24*time.Hour), 1e-9)
	assert.Zero(t, ProbabilisticScore(ev, "1.1.1.1", "ua", now.Add(13*time.Hour), 24*time.Hour))
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(Device{}))
	a := Fingerprint(laptop)
	b := Fingerprint(Device{Screen: " 1920x1080", Timezone: "europe/berlin", Device: "Desktop", OS: "macos", Browser: "firefox "})
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint(Device{Screen: "1280x720"}))
}
