package tenant

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type TenantConfigRepo interface {
	Get(dbc dbctx.Context, tenantID string) (*types.TenantConfig, error)
	Upsert(dbc dbctx.Context, tenantID string, settings datatypes.JSON) error
}

type tenantConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantConfigRepo(db *gorm.DB, baseLog *logger.Logger) TenantConfigRepo {
	return &tenantConfigRepo{
		db:  db,
		log: baseLog.With("repo", "TenantConfigRepo"),
	}
}

func (r *tenantConfigRepo) Get(dbc dbctx.Context, tenantID string) (*types.TenantConfig, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == "" {
		return nil, nil
	}
	var tc types.TenantConfig
	err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Find(&tc).Error
	if err != nil {
		return nil, err
	}
	if tc.TenantID == "" {
		return nil, nil
	}
	return &tc, nil
}

func (r *tenantConfigRepo) Upsert(dbc dbctx.Context, tenantID string, settings datatypes.JSON) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	row := &types.TenantConfig{TenantID: tenantID, Settings: settings, CreatedAt: now, UpdatedAt: now}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
		}).
		Create(row).Error
}
