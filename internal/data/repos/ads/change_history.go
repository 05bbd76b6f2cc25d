package ads

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type GateFailureCount struct {
	Gate  string
	Count int64
}

type ChangeHistoryRepo interface {
	Create(dbc dbctx.Context, row *types.ChangeHistory) (*types.ChangeHistory, error)
	ListByChange(dbc dbctx.Context, changeID uuid.UUID) ([]*types.ChangeHistory, error)
	CountCompletedForCampaignSince(dbc dbctx.Context, campaignID string, since time.Time) (int64, error)
	ListCompletedForAdSince(dbc dbctx.Context, adID string, action string, since time.Time) ([]*types.ChangeHistory, error)
	CountOutcomesSince(dbc dbctx.Context, tenantID string, since time.Time) (total int64, failures []GateFailureCount, err error)
}

type changeHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChangeHistoryRepo(db *gorm.DB, baseLog *logger.Logger) ChangeHistoryRepo {
	return &changeHistoryRepo{
		db:  db,
		log: baseLog.With("repo", "ChangeHistoryRepo"),
	}
}

func (r *changeHistoryRepo) Create(dbc dbctx.Context, row *types.ChangeHistory) (*types.ChangeHistory, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *changeHistoryRepo) ListByChange(dbc dbctx.Context, changeID uuid.UUID) ([]*types.ChangeHistory, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChangeHistory
	if changeID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("change_id = ?", changeID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *changeHistoryRepo) CountCompletedForCampaignSince(dbc dbctx.Context, campaignID string, since time.Time) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.ChangeHistory{}).
		Where("campaign_id = ? AND outcome = ? AND created_at >= ?", campaignID, types.OutcomeCompleted, since.UTC()).
		Count(&count).Error
	return count, err
}

func (r *changeHistoryRepo) ListCompletedForAdSince(dbc dbctx.Context, adID string, action string, since time.Time) ([]*types.ChangeHistory, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChangeHistory
	q := transaction.WithContext(dbc.Ctx).
		Where("ad_id = ? AND outcome = ? AND created_at >= ?", adID, types.OutcomeCompleted, since.UTC())
	if action != "" {
		q = q.Where("action = ?", action)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountOutcomesSince returns the number of terminal attempts and the failures grouped by gate.
// An empty tenantID covers every tenant.
func (r *changeHistoryRepo) CountOutcomesSince(dbc dbctx.Context, tenantID string, since time.Time) (int64, []GateFailureCount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	base := func() *gorm.DB {
		q := transaction.WithContext(dbc.Ctx).
			Model(&types.ChangeHistory{}).
			Where("created_at >= ?", since.UTC())
		if tenantID != "" {
			q = q.Where("tenant_id = ?", tenantID)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return 0, nil, err
	}

	type row struct {
		FailedGate string
		N          int64
	}
	var rows []row
	if err := base().
		Select("failed_gate, COUNT(*) AS n").
		Where("outcome = ?", types.OutcomeFailed).
		Group("failed_gate").
		Scan(&rows).Error; err != nil {
		return 0, nil, err
	}
	out := make([]GateFailureCount, 0, len(rows))
	for _, rr := range rows {
		out = append(out, GateFailureCount{Gate: rr.FailedGate, Count: rr.N})
	}
	return total, out, nil
}
