package ads

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type CampaignRepo interface {
	Upsert(dbc dbctx.Context, campaign *types.Campaign) error
	GetByCampaignID(dbc dbctx.Context, campaignID string) (*types.Campaign, error)
}

type campaignRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCampaignRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRepo {
	return &campaignRepo{
		db:  db,
		log: baseLog.With("repo", "CampaignRepo"),
	}
}

func (r *campaignRepo) Upsert(dbc dbctx.Context, campaign *types.Campaign) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if campaign == nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "daily_budget", "updated_at"}),
		}).
		Create(campaign).Error
}

func (r *campaignRepo) GetByCampaignID(dbc dbctx.Context, campaignID string) (*types.Campaign, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == "" {
		return nil, nil
	}
	var c types.Campaign
	err := transaction.WithContext(dbc.Ctx).
		Where("campaign_id = ?", campaignID).
		Limit(1).
		Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.CampaignID == "" {
		return nil, nil
	}
	return &c, nil
}
