package executor

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/clients/adplatform"
	"github.com/yungbote/adpilot-backend/internal/data/repos"
	"github.com/yungbote/adpilot-backend/internal/data/repos/testutil"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/modules/changequeue"
	"github.com/yungbote/adpilot-backend/internal/modules/tenantconfig"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/retry"
)

type fakePlatform struct {
	calls atomic.Int32
	fn    func(n int32, m adplatform.Mutation) (adplatform.Response, error)
	last  atomic.Pointer[adplatform.Mutation]
}

func (f *fakePlatform) Apply(ctx context.Context, m adplatform.Mutation) (adplatform.Response, error) {
	n := f.calls.Add(1)
	f.last.Store(&m)
	if f.fn == nil {
		return adplatform.Response{Status: "ok"}, nil
	}
	return f.fn(n, m)
}

type staticSettings struct{ s tenantconfig.Settings }

func (s staticSettings) Get(context.Context, string) tenantconfig.Settings { return s.s }

type fixture struct {
	exec     *SafeExecutor
	queue    *changequeue.Queue
	history  repos.ChangeHistoryRepo
	adStates repos.AdStateRepo
	platform *fakePlatform
	slept    []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	adStates := repos.NewAdStateRepo(db, log)
	history := repos.NewChangeHistoryRepo(db, log)
	_, err := adStates.ApplySnapshot(dbctx.Background(context.Background()), repos.Snapshot{
		TenantID: "t1", CampaignID: "c1", AdID: "ad-1",
		DailyBudget: decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)
	q := changequeue.NewQueue(db, log, repos.NewPendingChangeRepo(db, log), history, adStates, nil, changequeue.Options{})
	f := &fixture{queue: q, history: history, adStates: adStates, platform: &fakePlatform{}}
	f.exec = New(log, q, history, f.platform, staticSettings{tenantconfig.Defaults()}, nil, Options{
		Retry:       retry.Config{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		CallTimeout: time.Second,
	})
	f.exec.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	f.exec.uniform = func() float64 { return 0.5 }
	return f
}

func (f *fixture) claim(t *testing.T, p changequeue.Proposal) *types.PendingChange {
	t.Helper()
	ctx := context.Background()
	_, err := f.queue.Propose(ctx, p)
	require.NoError(t, err)
	c, ok, err := f.queue.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

func (f *fixture) seedCompleted(t *testing.T, campaign, ad string, current, sent int64, at time.Time) {
	t.Helper()
	_, err := f.history.Create(dbctx.Background(context.Background()), &types.ChangeHistory{
		ChangeID: uuid.New(), TenantID: "t1", CampaignID: campaign, AdID: ad,
		Action: types.ActionSetBudget, Outcome: types.OutcomeCompleted,
		CurrentValue: decimal.NewFromInt(current), RequestedValue: decimal.NewFromInt(sent),
		SentValue: decimal.NewNullDecimal(decimal.NewFromInt(sent)),
		CreatedAt: at,
	})
	require.NoError(t, err)
}

func budget(current, target int64) changequeue.Proposal {
	return changequeue.Proposal{
		TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionSetBudget,
		Current: decimal.NewFromInt(current), Target: decimal.NewFromInt(target),
	}
}

func TestExecute_HappyPathFuzzesAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.exec.uniform = func() float64 { return 1.0 }
	c := f.claim(t, budget(100, 110))

	require.NoError(t, f.exec.Execute(ctx, c))
	assert.Equal(t, []time.Duration{18 * time.Second}, f.slept)
	require.EqualValues(t, 1, f.platform.calls.Load())
	sent := f.platform.last.Load().Budget
	require.True(t, sent.Valid)
	assert.True(t, sent.Decimal.Equal(decimal.RequireFromString("113.3")), "got %s", sent.Decimal)

	got, err := f.queue.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusCompleted, got.Status)
	hist, err := f.queue.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	var gates []changequeue.GateResult
	require.NoError(t, json.Unmarshal(hist[0].Gates, &gates))
	names := make([]string, 0, len(gates))
	for _, g := range gates {
		assert.Equal(t, types.GatePassed, g.Result, g.Gate)
		names = append(names, g.Gate)
	}
	assert.Equal(t, []string{types.GateJitter, types.GateRate, types.GateVelocity, types.GateFuzzy, types.GatePlatform}, names)
}

func TestExecute_RateCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 15; i++ {
		f.seedCompleted(t, "c1", "other-ad", 10, 11, now.Add(-time.Duration(i+1)*time.Minute))
	}
	f.seedCompleted(t, "c1", "other-ad", 10, 11, now.Add(-2*time.Hour))

	c := f.claim(t, changequeue.Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause})
	require.NoError(t, f.exec.Execute(ctx, c))
	assert.Zero(t, f.platform.calls.Load(), "rejected changes never reach the platform")

	got, err := f.queue.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusFailed, got.Status)
	assert.Equal(t, types.GateRate, got.FailedGate)
}

func TestExecute_RateCapAllowsFourteen(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	for i := 0; i < 14; i++ {
		f.seedCompleted(t, "c1", "other-ad", 10, 11, now.Add(-time.Duration(i+1)*time.Minute))
	}
	c := f.claim(t, changequeue.Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause})
	require.NoError(t, f.exec.Execute(context.Background(), c))
	assert.EqualValues(t, 1, f.platform.calls.Load())
}

func TestExecute_VelocityCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCompleted(t, "c1", "ad-1", 100, 115, time.Now().UTC().Add(-2*time.Hour))

	c := f.claim(t, budget(115, 125))
	require.NoError(t, f.exec.Execute(ctx, c))
	got, err := f.queue.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusFailed, got.Status)
	assert.Equal(t, types.GateVelocity, got.FailedGate)
	assert.Zero(t, f.platform.calls.Load())

	c = f.claim(t, budget(115, 118))
	require.NoError(t, f.exec.Execute(ctx, c))
	got, err = f.queue.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusCompleted, got.Status, "15 + 3 stays within 20 percent of 100")
}

func TestExecute_AuthFailsImmediately(t *testing.T) {
	f := newFixture(t)
	f.platform.fn = func(int32, adplatform.Mutation) (adplatform.Response, error) {
		return adplatform.Response{}, &adplatform.Error{Kind: adplatform.ErrorUnauthorized, StatusCode: 401}
	}
	c := f.claim(t, changequeue.Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause})
	require.NoError(t, f.exec.Execute(context.Background(), c))
	assert.EqualValues(t, 1, f.platform.calls.Load())

	got, err := f.queue.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusFailed, got.Status)
	assert.Equal(t, types.GatePlatform, got.FailedGate)
	st, err := f.adStates.GetByAdID(dbctx.Background(context.Background()), "ad-1")
	require.NoError(t, err)
	assert.Equal(t, types.AdStatusActive, st.Status)
}

func TestExecute_TransientRetriedThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.platform.fn = func(n int32, _ adplatform.Mutation) (adplatform.Response, error) {
		if n < 3 {
			return adplatform.Response{}, &adplatform.Error{Kind: adplatform.ErrorTransient, StatusCode: 503}
		}
		return adplatform.Response{Status: "ok"}, nil
	}
	c := f.claim(t, changequeue.Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause})
	require.NoError(t, f.exec.Execute(context.Background(), c))
	assert.EqualValues(t, 3, f.platform.calls.Load())

	got, err := f.queue.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusCompleted, got.Status)
	st, err := f.adStates.GetByAdID(dbctx.Background(context.Background()), "ad-1")
	require.NoError(t, err)
	assert.Equal(t, types.AdStatusPaused, st.Status)
}

func TestExecute_TransientExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.platform.fn = func(int32, adplatform.Mutation) (adplatform.Response, error) {
		return adplatform.Response{}, &adplatform.Error{Kind: adplatform.ErrorTransient, StatusCode: 502}
	}
	c := f.claim(t, changequeue.Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionResume})
	require.NoError(t, f.exec.Execute(context.Background(), c))
	assert.EqualValues(t, 4, f.platform.calls.Load())
	got, err := f.queue.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusFailed, got.Status)
	assert.Contains(t, got.Error, "exhausted")
}

func TestFuzzBudget_Bounds(t *testing.T) {
	target := decimal.NewFromInt(100)
	lo, hi := decimal.NewFromInt(97), decimal.NewFromInt(103)
	rng := rand.New(rand.NewPCG(7, 11))
	seen := map[string]struct{}{}
	for i := 0; i < 10000; i++ {
		sent, err := FuzzBudget(target, 0.03, rng.Float64())
		require.NoError(t, err)
		require.True(t, sent.GreaterThanOrEqual(lo) && sent.LessThanOrEqual(hi), "draw %d: %s", i, sent)
		seen[sent.String()] = struct{}{}
	}
	assert.Greater(t, len(seen), 100, "fuzzed values must vary")
}

func TestJitterDelay(t *testing.T) {
	c := &types.PendingChange{JitterMinMS: 3000, JitterMaxMS: 18000}
	assert.Equal(t, 3*time.Second, JitterDelay(c, 0))
	assert.Equal(t, 10500*time.Millisecond, JitterDelay(c, 0.5))
	assert.Equal(t, 2*time.Second, JitterDelay(&types.PendingChange{JitterMinMS: 2000, JitterMaxMS: 1000}, 0.9))
}

func TestCheckVelocity_ZeroBaselineIsUnlimited(t *testing.T) {
	c := &types.PendingChange{CurrentValue: decimal.Zero, TargetValue: decimal.NewFromInt(50)}
	_, err := CheckVelocity(c, nil, 0.2)
	assert.NoError(t, err)
}
