package ads

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

// Snapshot is a cumulative performance reading for one ad from the ad platform.
type Snapshot struct {
	TenantID    string
	CampaignID  string
	AdID        string
	Spend       decimal.Decimal
	Impressions int64
	Clicks      int64
	DailyBudget decimal.NullDecimal
	ObservedAt  time.Time
}

type CampaignRef struct {
	TenantID   string
	CampaignID string
}

type AdStateRepo interface {
	GetByAdID(dbc dbctx.Context, adID string) (*types.AdState, error)
	ListByCampaign(dbc dbctx.Context, campaignID string) ([]*types.AdState, error)
	ListCampaigns(dbc dbctx.Context) ([]CampaignRef, error)
	ApplySnapshot(dbc dbctx.Context, snap Snapshot) (*types.AdState, error)
	AddValue(dbc dbctx.Context, adID string, pipelineDelta decimal.Decimal, cashDelta decimal.Decimal) (bool, error)
	UpdateFields(dbc dbctx.Context, adID string, updates map[string]interface{}) error
}

type adStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAdStateRepo(db *gorm.DB, baseLog *logger.Logger) AdStateRepo {
	return &adStateRepo{
		db:  db,
		log: baseLog.With("repo", "AdStateRepo"),
	}
}

func (r *adStateRepo) GetByAdID(dbc dbctx.Context, adID string) (*types.AdState, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if adID == "" {
		return nil, nil
	}
	var st types.AdState
	err := transaction.WithContext(dbc.Ctx).
		Where("ad_id = ?", adID).
		Limit(1).
		Find(&st).Error
	if err != nil {
		return nil, err
	}
	if st.AdID == "" {
		return nil, nil
	}
	return &st, nil
}

func (r *adStateRepo) ListByCampaign(dbc dbctx.Context, campaignID string) ([]*types.AdState, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AdState
	if campaignID == "" {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("campaign_id = ?", campaignID).
		Order("ad_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *adStateRepo) ListCampaigns(dbc dbctx.Context) ([]CampaignRef, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []CampaignRef
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.AdState{}).
		Distinct("tenant_id", "campaign_id").
		Where("status <> ?", types.AdStatusInactive).
		Order("tenant_id ASC, campaign_id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplySnapshot folds a cumulative reading into the ledger. Counters only move up, so
// late or replayed snapshots are harmless. The first reading creates the row and fixes
// created_at.
func (r *adStateRepo) ApplySnapshot(dbc dbctx.Context, snap Snapshot) (*types.AdState, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	observed := snap.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	var out *types.AdState
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		seed := &types.AdState{
			AdID:          snap.AdID,
			TenantID:      snap.TenantID,
			CampaignID:    snap.CampaignID,
			Status:        types.AdStatusActive,
			DailyBudget:   snap.DailyBudget.Decimal,
			Spend:         decimal.Zero,
			PipelineValue: decimal.Zero,
			CashRevenue:   decimal.Zero,
			CreatedAt:     observed,
			LastUpdatedAt: observed,
		}
		if err := txx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ad_id"}},
			DoNothing: true,
		}).Create(seed).Error; err != nil {
			return err
		}

		var st types.AdState
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ad_id = ?", snap.AdID).
			First(&st).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if snap.Spend.GreaterThan(st.Spend) {
			updates["spend"] = snap.Spend
			st.Spend = snap.Spend
		}
		if snap.Impressions > st.Impressions {
			updates["impressions"] = snap.Impressions
			st.Impressions = snap.Impressions
		}
		clicks := snap.Clicks
		if clicks > st.Impressions {
			clicks = st.Impressions
		}
		if clicks > st.Clicks {
			updates["clicks"] = clicks
			st.Clicks = clicks
		}
		if snap.DailyBudget.Valid && !snap.DailyBudget.Decimal.Equal(st.DailyBudget) && st.Status == types.AdStatusActive {
			updates["daily_budget"] = snap.DailyBudget.Decimal
			st.DailyBudget = snap.DailyBudget.Decimal
		}
		if len(updates) == 0 {
			out = &st
			return nil
		}
		if observed.After(st.LastUpdatedAt) {
			updates["last_updated_at"] = observed
			st.LastUpdatedAt = observed
		}
		if err := txx.Model(&types.AdState{}).Where("ad_id = ?", snap.AdID).Updates(updates).Error; err != nil {
			return err
		}
		out = &st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddValue credits attributed revenue. Non-positive deltas are ignored so totals stay monotonic.
func (r *adStateRepo) AddValue(dbc dbctx.Context, adID string, pipelineDelta decimal.Decimal, cashDelta decimal.Decimal) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{}
	if pipelineDelta.IsPositive() {
		updates["pipeline_value"] = gorm.Expr("pipeline_value + ?", pipelineDelta.String())
	}
	if cashDelta.IsPositive() {
		updates["cash_revenue"] = gorm.Expr("cash_revenue + ?", cashDelta.String())
	}
	if len(updates) == 0 {
		return false, nil
	}
	updates["last_updated_at"] = time.Now().UTC()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.AdState{}).
		Where("ad_id = ?", adID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *adStateRepo) UpdateFields(dbc dbctx.Context, adID string, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if adID == "" || len(updates) == 0 {
		return nil
	}
	delete(updates, "created_at")
	if _, ok := updates["last_updated_at"]; !ok {
		updates["last_updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.AdState{}).
		Where("ad_id = ?", adID).
		Updates(updates).Error
}
