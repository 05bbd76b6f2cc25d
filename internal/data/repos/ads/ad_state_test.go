package ads

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/data/repos/testutil"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
)

func TestAdStateRepo_ApplySnapshotIsMonotonic(t *testing.T) {
	db := testutil.DB(t)
	repo := NewAdStateRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())

	adID := "ad-" + uuid.NewString()
	firstSeen := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)

	st, err := repo.ApplySnapshot(dbc, Snapshot{
		TenantID: "t1", CampaignID: "c1", AdID: adID,
		Spend: decimal.NewFromInt(40), Impressions: 1000, Clicks: 30,
		DailyBudget: decimal.NewNullDecimal(decimal.NewFromInt(50)),
		ObservedAt:  firstSeen,
	})
	require.NoError(t, err)
	assert.True(t, st.Spend.Equal(decimal.NewFromInt(40)))
	assert.True(t, st.CreatedAt.Equal(firstSeen))

	// A stale replay must not roll totals back.
	st, err = repo.ApplySnapshot(dbc, Snapshot{
		TenantID: "t1", CampaignID: "c1", AdID: adID,
		Spend: decimal.NewFromInt(10), Impressions: 200, Clicks: 5,
		ObservedAt: firstSeen.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, st.Spend.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, int64(1000), st.Impressions)
	assert.Equal(t, int64(30), st.Clicks)

	// Clicks are capped by impressions.
	st, err = repo.ApplySnapshot(dbc, Snapshot{
		TenantID: "t1", CampaignID: "c1", AdID: adID,
		Spend: decimal.NewFromInt(60), Impressions: 1200, Clicks: 5000,
		ObservedAt: firstSeen.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), st.Clicks)

	got, err := repo.GetByAdID(dbc, adID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(firstSeen), "created_at is fixed at first observation")
	assert.True(t, got.Spend.Equal(decimal.NewFromInt(60)))

	moved, err := repo.AddValue(dbc, adID, decimal.NewFromFloat(-25), decimal.Zero)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = repo.AddValue(dbc, adID, decimal.NewFromFloat(112.5), decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.True(t, moved)
	got, err = repo.GetByAdID(dbc, adID)
	require.NoError(t, err)
	assert.True(t, got.PipelineValue.Equal(decimal.NewFromFloat(112.5)), "pipeline=%s", got.PipelineValue)
	assert.True(t, got.CashRevenue.Equal(decimal.NewFromInt(20)))

	refs, err := repo.ListCampaigns(dbc)
	require.NoError(t, err)
	assert.Contains(t, refs, CampaignRef{TenantID: "t1", CampaignID: "c1"})
}

func TestChangeHistoryRepo_WindowsAndImmutability(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChangeHistoryRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())

	campaign := "camp-" + uuid.NewString()
	adID := "ad-" + uuid.NewString()
	now := time.Now().UTC()

	mk := func(outcome, gate string, at time.Time) *types.ChangeHistory {
		return &types.ChangeHistory{
			ChangeID: uuid.New(), TenantID: "tenant-" + campaign, CampaignID: campaign, AdID: adID,
			Action: types.ActionSetBudget, Outcome: outcome, FailedGate: gate,
			CurrentValue: decimal.NewFromInt(100), RequestedValue: decimal.NewFromInt(105),
			SentValue: decimal.NewNullDecimal(decimal.NewFromInt(104)),
			CreatedAt: at,
		}
	}
	for _, row := range []*types.ChangeHistory{
		mk(types.OutcomeCompleted, "", now.Add(-10*time.Minute)),
		mk(types.OutcomeCompleted, "", now.Add(-50*time.Minute)),
		mk(types.OutcomeCompleted, "", now.Add(-3*time.Hour)),
		mk(types.OutcomeFailed, types.GateRate, now.Add(-5*time.Minute)),
		mk(types.OutcomeFailed, types.GateVelocity, now.Add(-6*time.Minute)),
		mk(types.OutcomeFailed, types.GateVelocity, now.Add(-7*time.Minute)),
	} {
		_, err := repo.Create(dbc, row)
		require.NoError(t, err)
	}

	n, err := repo.CountCompletedForCampaignSince(dbc, campaign, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := repo.ListCompletedForAdSince(dbc, adID, types.ActionSetBudget, now.Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	total, failures, err := repo.CountOutcomesSince(dbc, "tenant-"+campaign, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	byGate := map[string]int64{}
	for _, f := range failures {
		byGate[f.Gate] = f.Count
	}
	assert.Equal(t, int64(1), byGate[types.GateRate])
	assert.Equal(t, int64(2), byGate[types.GateVelocity])

	err = db.Model(rows[0]).Update("reason", "rewrite").Error
	require.ErrorIs(t, err, types.ErrHistoryImmutable)
	err = db.Delete(rows[0]).Error
	require.ErrorIs(t, err, types.ErrHistoryImmutable)
}
