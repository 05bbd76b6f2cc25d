package ads

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type PendingChangeRepo interface {
	Create(dbc dbctx.Context, change *types.PendingChange) (*types.PendingChange, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PendingChange, error)
	FindOpen(dbc dbctx.Context, adID string, action string) (*types.PendingChange, error)
	MarkSuperseded(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ClaimNext(dbc dbctx.Context, workerID string, lease time.Duration) (*types.PendingChange, error)
	MarkExecuting(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error)
	Finish(dbc dbctx.Context, id uuid.UUID, claimToken string, status string, updates map[string]interface{}) (bool, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type pendingChangeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPendingChangeRepo(db *gorm.DB, baseLog *logger.Logger) PendingChangeRepo {
	return &pendingChangeRepo{
		db:  db,
		log: baseLog.With("repo", "PendingChangeRepo"),
	}
}

func (r *pendingChangeRepo) Create(dbc dbctx.Context, change *types.PendingChange) (*types.PendingChange, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if change == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(change).Error; err != nil {
		return nil, err
	}
	return change, nil
}

func (r *pendingChangeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PendingChange, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var change types.PendingChange
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&change).Error
	if err != nil {
		return nil, err
	}
	if change.ID == uuid.Nil {
		return nil, nil
	}
	return &change, nil
}

func (r *pendingChangeRepo) FindOpen(dbc dbctx.Context, adID string, action string) (*types.PendingChange, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if adID == "" || action == "" {
		return nil, nil
	}
	var change types.PendingChange
	err := transaction.WithContext(dbc.Ctx).
		Where("ad_id = ? AND action = ? AND status IN ?", adID, action, types.OpenChangeStatuses).
		Order("created_at DESC").
		Limit(1).
		Find(&change).Error
	if err != nil {
		return nil, err
	}
	if change.ID == uuid.Nil {
		return nil, nil
	}
	return &change, nil
}

// MarkSuperseded retires a change that no worker has claimed yet.
func (r *pendingChangeRepo) MarkSuperseded(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingChange{}).
		Where("id = ? AND status = ?", id, types.ChangeStatusPending).
		Updates(map[string]interface{}{
			"status":     types.ChangeStatusSuperseded,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimNext locks the oldest claimable change (pending, or claimed/executing with an
// expired lease) and hands it to workerID with a fresh claim token. The conditional
// update re-checks the observed status and token so a concurrent claimer that slipped
// past the row lock cannot also win.
func (r *pendingChangeRepo) ClaimNext(dbc dbctx.Context, workerID string, lease time.Duration) (*types.PendingChange, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	for attempt := 0; attempt < 3; attempt++ {
		now := time.Now().UTC()
		staleCutoff := now.Add(-lease)
		var claimed *types.PendingChange
		err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
			var change types.PendingChange
			qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where(`
          (
            status = ?
            OR (
              status IN ?
              AND heartbeat_at IS NOT NULL
              AND heartbeat_at < ?
            )
          )
        `, types.ChangeStatusPending, []string{types.ChangeStatusClaimed, types.ChangeStatusExecuting}, staleCutoff).
				Order("created_at ASC").
				First(&change).Error
			if errors.Is(qErr, gorm.ErrRecordNotFound) {
				return nil
			}
			if qErr != nil {
				return qErr
			}
			token := uuid.NewString()
			res := txx.Model(&types.PendingChange{}).
				Where("id = ? AND status = ? AND claim_token = ?", change.ID, change.Status, change.ClaimToken).
				Updates(map[string]interface{}{
					"status":       types.ChangeStatusClaimed,
					"claimed_by":   workerID,
					"claim_token":  token,
					"claimed_at":   now,
					"heartbeat_at": now,
					"attempts":     gorm.Expr("attempts + 1"),
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			change.Status = types.ChangeStatusClaimed
			change.ClaimedBy = workerID
			change.ClaimToken = token
			change.ClaimedAt = &now
			change.HeartbeatAt = &now
			change.Attempts++
			claimed = &change
			return nil
		})
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
		if !r.anyClaimable(dbc, staleCutoff) {
			return nil, nil
		}
	}
	return nil, nil
}

func (r *pendingChangeRepo) anyClaimable(dbc dbctx.Context, staleCutoff time.Time) bool {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingChange{}).
		Where("status = ? OR (status IN ? AND heartbeat_at < ?)",
			types.ChangeStatusPending,
			[]string{types.ChangeStatusClaimed, types.ChangeStatusExecuting},
			staleCutoff,
		).
		Count(&count).Error
	return err == nil && count > 0
}

func (r *pendingChangeRepo) MarkExecuting(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingChange{}).
		Where("id = ? AND claim_token = ? AND status = ?", id, claimToken, types.ChangeStatusClaimed).
		Updates(map[string]interface{}{
			"status":       types.ChangeStatusExecuting,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *pendingChangeRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingChange{}).
		Where("id = ? AND claim_token = ? AND status IN ?", id, claimToken,
			[]string{types.ChangeStatusClaimed, types.ChangeStatusExecuting}).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Finish moves a claimed change to a terminal status. Only the current claim holder succeeds.
func (r *pendingChangeRepo) Finish(dbc dbctx.Context, id uuid.UUID, claimToken string, status string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || claimToken == "" {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	now := time.Now().UTC()
	updates["status"] = status
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = now
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingChange{}).
		Where("id = ? AND claim_token = ? AND status IN ?", id, claimToken,
			[]string{types.ChangeStatusClaimed, types.ChangeStatusExecuting}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *pendingChangeRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.PendingChange{}).
		Select("status, COUNT(*) AS n").
		Where("status IN ?", types.OpenChangeStatuses).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.N
	}
	return out, nil
}
