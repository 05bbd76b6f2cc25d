package changequeue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	"github.com/yungbote/adpilot-backend/internal/data/repos/testutil"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
)

type fixture struct {
	q        *Queue
	adStates repos.AdStateRepo
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	adStates := repos.NewAdStateRepo(db, log)
	_, err := adStates.ApplySnapshot(dbctx.Background(context.Background()), repos.Snapshot{
		TenantID: "t1", CampaignID: "c1", AdID: "ad-1",
		DailyBudget: decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)
	q := NewQueue(db, log,
		repos.NewPendingChangeRepo(db, log),
		repos.NewChangeHistoryRepo(db, log),
		adStates, nil, opts)
	return fixture{q: q, adStates: adStates}
}

func budget(current, target int64) Proposal {
	return Proposal{
		TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionSetBudget,
		Current: decimal.NewFromInt(current), Target: decimal.NewFromInt(target), Reason: "scale",
	}
}

func TestPropose_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	cases := map[string]Proposal{
		"missing ad":      {TenantID: "t1", CampaignID: "c1", Action: types.ActionPause},
		"unknown action":  {TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: "delete"},
		"zero budget":     budget(100, 0),
		"no-op budget":    budget(100, 100),
		"negative":        {TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionSetBudget, Target: decimal.NewFromInt(-5)},
		"kill on resume":  {TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionResume, Kill: true},
		"inverted jitter": {TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause, JitterMin: 5 * time.Second, JitterMax: time.Second},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.q.Propose(ctx, p)
			require.ErrorIs(t, err, ErrInvalidChange)
		})
	}
}

func TestPropose_SupersedeAndDedupe(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.q.Propose(ctx, budget(100, 120))
	require.NoError(t, err)
	same, err := f.q.Propose(ctx, budget(100, 120))
	require.NoError(t, err)
	assert.Equal(t, first, same, "identical proposal returns the open change")

	second, err := f.q.Propose(ctx, budget(100, 110))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	old, err := f.q.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusSuperseded, old.Status)
	got, err := f.q.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusPending, got.Status)
	assert.Equal(t, int64(3000), got.JitterMinMS)
	assert.Equal(t, int64(18000), got.JitterMaxMS)

	pause, err := f.q.Propose(ctx, Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause})
	require.NoError(t, err)
	assert.NotEqual(t, second, pause, "different actions queue independently")
}

func TestPropose_InFlightIsNotReplaced(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.q.Propose(ctx, budget(100, 120))
	require.NoError(t, err)
	claimed, ok, err := f.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.q.Propose(ctx, budget(100, 90))
	require.ErrorIs(t, err, ErrChangeInFlight)

	require.NoError(t, f.q.Begin(ctx, claimed))
	_, err = f.q.Propose(ctx, budget(100, 90))
	require.ErrorIs(t, err, ErrChangeInFlight)
}

func TestComplete_WritesHistoryAndAppliesState(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, err := f.q.Propose(ctx, budget(100, 120))
	require.NoError(t, err)
	c, ok, err := f.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, c.ID)
	require.NoError(t, f.q.Begin(ctx, c))

	sent := decimal.RequireFromString("121.37")
	out := Outcome{
		SentValue:        decimal.NewNullDecimal(sent),
		Gates:            []GateResult{{Gate: types.GateJitter, Result: types.GatePassed}},
		PlatformResponse: map[string]any{"ok": true},
		Jitter:           4 * time.Second,
		Duration:         5 * time.Second,
	}
	require.NoError(t, f.q.Complete(ctx, c, out))
	require.ErrorIs(t, f.q.Complete(ctx, c, out), ErrClaimLost, "terminal changes cannot be finished twice")

	got, err := f.q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusCompleted, got.Status)
	assert.NotNil(t, got.ExecutedAt)

	hist, err := f.q.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, types.OutcomeCompleted, hist[0].Outcome)
	assert.True(t, hist[0].SentValue.Decimal.Equal(sent))
	assert.Equal(t, int64(4000), hist[0].JitterMS)
	var gates []GateResult
	require.NoError(t, json.Unmarshal(hist[0].Gates, &gates))
	assert.Len(t, gates, 1)

	st, err := f.adStates.GetByAdID(dbctx.Background(ctx), "ad-1")
	require.NoError(t, err)
	assert.True(t, st.DailyBudget.Equal(sent), "state follows the sent value, got %s", st.DailyBudget)
}

func TestFail_KillPauseAndGate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.q.Propose(ctx, Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause, Kill: true})
	require.NoError(t, err)
	c, ok, err := f.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	out := Outcome{FailedGate: types.GateRate, Gates: []GateResult{{Gate: types.GateRate, Result: types.GateFailed, Detail: "15/15"}}}
	require.NoError(t, f.q.Fail(ctx, c, out, assert.AnError))

	got, err := f.q.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusFailed, got.Status)
	assert.Equal(t, types.GateRate, got.FailedGate)
	st, err := f.adStates.GetByAdID(dbctx.Background(ctx), "ad-1")
	require.NoError(t, err)
	assert.Equal(t, types.AdStatusActive, st.Status, "failed changes leave state alone")

	_, err = f.q.Propose(ctx, Proposal{TenantID: "t1", CampaignID: "c1", AdID: "ad-1", Action: types.ActionPause, Kill: true})
	require.NoError(t, err)
	c, ok, err = f.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.q.Complete(ctx, c, Outcome{}))
	st, err = f.adStates.GetByAdID(dbctx.Background(ctx), "ad-1")
	require.NoError(t, err)
	assert.Equal(t, types.AdStatusInactive, st.Status)
}

func TestClaimNext_LeaseExhaustion(t *testing.T) {
	f := newFixture(t, Options{Lease: 10 * time.Millisecond, MaxClaimAttempts: 2})
	ctx := context.Background()
	id, err := f.q.Propose(ctx, budget(100, 120))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		c, ok, err := f.q.ClaimNext(ctx, "crashy")
		require.NoError(t, err)
		require.True(t, ok, "claim %d", i)
		assert.Equal(t, i, c.Attempts)
		time.Sleep(30 * time.Millisecond)
	}
	_, ok, err := f.q.ClaimNext(ctx, "w2")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusFailed, got.Status)
	assert.Equal(t, types.GateLease, got.FailedGate)
	hist, err := f.q.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, types.GateLease, hist[0].FailedGate)
}
