package ads

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos/testutil"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
)

func queueDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.DB(t)
	if testutil.IsPostgres() {
		require.NoError(t, db.Exec("DELETE FROM pending_change").Error)
	}
	return db
}

func newChange(adID string, action string, target int64, createdAt time.Time) *types.PendingChange {
	return &types.PendingChange{
		TenantID:     "t1",
		CampaignID:   "c1",
		AdID:         adID,
		Action:       action,
		CurrentValue: decimal.NewFromInt(100),
		TargetValue:  decimal.NewFromInt(target),
		Status:       types.ChangeStatusPending,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestPendingChangeRepo_ClaimIsExclusive(t *testing.T) {
	db := queueDB(t)
	repo := NewPendingChangeRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())

	const total = 40
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < total; i++ {
		_, err := repo.Create(dbc, newChange(fmt.Sprintf("ad-%d-%s", i, uuid.NewString()[:8]), types.ActionSetBudget, 110, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	var (
		mu     sync.Mutex
		claims = map[uuid.UUID]int{}
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				c, err := repo.ClaimNext(dbc, workerID, time.Minute)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if c == nil {
					return
				}
				mu.Lock()
				claims[c.ID]++
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	require.Len(t, claims, total)
	for id, n := range claims {
		assert.Equalf(t, 1, n, "change %s claimed %d times", id, n)
	}
}

func TestPendingChangeRepo_ClaimOrderAndFinishGuard(t *testing.T) {
	db := queueDB(t)
	repo := NewPendingChangeRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())

	now := time.Now().UTC()
	older := newChange("ad-old-"+uuid.NewString(), types.ActionSetBudget, 120, now.Add(-2*time.Hour))
	newer := newChange("ad-new-"+uuid.NewString(), types.ActionSetBudget, 90, now.Add(-time.Hour))
	_, err := repo.Create(dbc, newer)
	require.NoError(t, err)
	_, err = repo.Create(dbc, older)
	require.NoError(t, err)

	first, err := repo.ClaimNext(dbc, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, older.ID, first.ID)
	assert.Equal(t, types.ChangeStatusClaimed, first.Status)
	assert.Equal(t, 1, first.Attempts)
	assert.NotEmpty(t, first.ClaimToken)

	ok, err := repo.Finish(dbc, first.ID, "not-the-token", types.ChangeStatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkExecuting(dbc, first.ID, first.ClaimToken)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Finish(dbc, first.ID, first.ClaimToken, types.ChangeStatusCompleted, map[string]interface{}{"executed_at": now})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Finish(dbc, first.ID, first.ClaimToken, types.ChangeStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok, "terminal rows must not change")

	got, err := repo.GetByID(dbc, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeStatusCompleted, got.Status)
}

func TestPendingChangeRepo_StaleLeaseIsReclaimed(t *testing.T) {
	db := queueDB(t)
	repo := NewPendingChangeRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())

	ch := newChange("ad-stale-"+uuid.NewString(), types.ActionPause, 0, time.Now().UTC().Add(-time.Hour))
	_, err := repo.Create(dbc, ch)
	require.NoError(t, err)

	first, err := repo.ClaimNext(dbc, "crashed-worker", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	none, err := repo.ClaimNext(dbc, "w2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "live lease must not be reclaimed")

	stale := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, db.Model(&types.PendingChange{}).Where("id = ?", first.ID).Update("heartbeat_at", stale).Error)

	second, err := repo.ClaimNext(dbc, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "w2", second.ClaimedBy)
	assert.Equal(t, 2, second.Attempts)
	assert.NotEqual(t, first.ClaimToken, second.ClaimToken)

	ok, err := repo.Finish(dbc, first.ID, first.ClaimToken, types.ChangeStatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, ok, "old claim holder lost the row")
}

func TestPendingChangeRepo_OneOpenChangePerAdAction(t *testing.T) {
	db := queueDB(t)
	repo := NewPendingChangeRepo(db, testutil.Logger(t))
	dbc := dbctx.Background(context.Background())

	adID := "ad-dup-" + uuid.NewString()
	now := time.Now().UTC()
	_, err := repo.Create(dbc, newChange(adID, types.ActionSetBudget, 110, now))
	require.NoError(t, err)

	_, err = repo.Create(dbc, newChange(adID, types.ActionSetBudget, 120, now))
	require.Error(t, err, "partial unique index rejects a second open row")

	_, err = repo.Create(dbc, newChange(adID, types.ActionPause, 0, now))
	require.NoError(t, err, "different action is independent")

	open, err := repo.FindOpen(dbc, adID, types.ActionSetBudget)
	require.NoError(t, err)
	require.NotNil(t, open)

	ok, err := repo.MarkSuperseded(dbc, open.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.Create(dbc, newChange(adID, types.ActionSetBudget, 130, now))
	require.NoError(t, err, "superseded rows are terminal")

	counts, err := repo.CountByStatus(dbc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[types.ChangeStatusPending])
}
