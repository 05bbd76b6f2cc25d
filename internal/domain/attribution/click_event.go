package attribution

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClickEvent is one recorded ad click. A platform click id is unique per tenant.
// AttributedConversionID is set at most once.
type ClickEvent struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID               string    `gorm:"column:tenant_id;not null;index;uniqueIndex:ux_click_event_tenant_click,priority:1" json:"tenant_id"`
	ClickID                *string   `gorm:"column:click_id;uniqueIndex:ux_click_event_tenant_click,priority:2" json:"click_id,omitempty"`
	AdID                   string    `gorm:"column:ad_id;not null;index" json:"ad_id"`
	Fingerprint            string    `gorm:"column:fingerprint;index:idx_click_event_fp_time,priority:1" json:"fingerprint,omitempty"`
	IP                     string    `gorm:"column:ip;index" json:"-"`
	UserAgent              string    `gorm:"column:user_agent" json:"-"`
	ClickedAt              time.Time `gorm:"column:clicked_at;not null;index;index:idx_click_event_fp_time,priority:2" json:"clicked_at"`
	AttributedConversionID *string   `gorm:"column:attributed_conversion_id;index" json:"attributed_conversion_id,omitempty"`
	CreatedAt              time.Time `gorm:"not null" json:"created_at"`
}

func (ClickEvent) TableName() string { return "click_event" }

func (c *ClickEvent) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
