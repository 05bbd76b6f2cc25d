package revenue

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type StageValueRepo interface {
	ListByTenant(dbc dbctx.Context, tenantID string) ([]*types.StageValue, error)
	Upsert(dbc dbctx.Context, rows []*types.StageValue) error
}

type stageValueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageValueRepo(db *gorm.DB, baseLog *logger.Logger) StageValueRepo {
	return &stageValueRepo{
		db:  db,
		log: baseLog.With("repo", "StageValueRepo"),
	}
}

func (r *stageValueRepo) ListByTenant(dbc dbctx.Context, tenantID string) ([]*types.StageValue, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.StageValue
	if tenantID == "" {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("stage ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stageValueRepo) Upsert(dbc dbctx.Context, rows []*types.StageValue) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "stage"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "confidence", "updated_at"}),
		}).
		Create(&rows).Error
}
