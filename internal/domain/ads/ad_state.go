package ads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	AdStatusActive   = "active"
	AdStatusPaused   = "paused"
	AdStatusInactive = "inactive"
)

// AdState is the running performance ledger for one platform ad.
// Spend, PipelineValue and CashRevenue only ever grow. Rows are never deleted.
type AdState struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AdID          string          `gorm:"column:ad_id;not null;uniqueIndex" json:"ad_id"`
	TenantID      string          `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	CampaignID    string          `gorm:"column:campaign_id;not null;index" json:"campaign_id"`
	Status        string          `gorm:"column:status;not null;default:active;index" json:"status"`
	DailyBudget   decimal.Decimal `gorm:"column:daily_budget;type:numeric(14,2);not null;default:0" json:"daily_budget"`
	Spend         decimal.Decimal `gorm:"column:spend;type:numeric(14,2);not null;default:0" json:"spend"`
	Impressions   int64           `gorm:"column:impressions;not null;default:0" json:"impressions"`
	Clicks        int64           `gorm:"column:clicks;not null;default:0" json:"clicks"`
	PipelineValue decimal.Decimal `gorm:"column:pipeline_value;type:numeric(14,2);not null;default:0" json:"pipeline_value"`
	CashRevenue   decimal.Decimal `gorm:"column:cash_revenue;type:numeric(14,2);not null;default:0" json:"cash_revenue"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;index" json:"created_at"`
	LastUpdatedAt time.Time       `gorm:"column:last_updated_at;not null;index" json:"last_updated_at"`
}

func (AdState) TableName() string { return "ad_state" }

func (a *AdState) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AdStatusActive
	}
	return nil
}

// Revenue is pipeline plus cash, the numerator of pipeline ROAS.
func (a *AdState) Revenue() decimal.Decimal {
	return a.PipelineValue.Add(a.CashRevenue)
}
