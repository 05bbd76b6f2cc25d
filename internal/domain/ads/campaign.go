package ads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Campaign struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID  string          `gorm:"column:campaign_id;not null;uniqueIndex" json:"campaign_id"`
	TenantID    string          `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	DailyBudget decimal.Decimal `gorm:"column:daily_budget;type:numeric(14,2);not null;default:0" json:"daily_budget"`
	CreatedAt   time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;index" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaign" }

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
