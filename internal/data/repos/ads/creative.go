package ads

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type CreativeRepo interface {
	Upsert(dbc dbctx.Context, creative *types.Creative) error
	GetByAdID(dbc dbctx.Context, adID string) (*types.Creative, error)
}

type creativeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreativeRepo(db *gorm.DB, baseLog *logger.Logger) CreativeRepo {
	return &creativeRepo{
		db:  db,
		log: baseLog.With("repo", "CreativeRepo"),
	}
}

func (r *creativeRepo) Upsert(dbc dbctx.Context, creative *types.Creative) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if creative == nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ad_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id", "embedding", "hook_type", "visual_style", "emotion_tag", "updated_at",
			}),
		}).
		Create(creative).Error
}

func (r *creativeRepo) GetByAdID(dbc dbctx.Context, adID string) (*types.Creative, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if adID == "" {
		return nil, nil
	}
	var c types.Creative
	err := transaction.WithContext(dbc.Ctx).
		Where("ad_id = ?", adID).
		Limit(1).
		Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.AdID == "" {
		return nil, nil
	}
	return &c, nil
}
