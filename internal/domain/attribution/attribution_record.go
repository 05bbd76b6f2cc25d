package attribution

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	MethodExact         = "exact"
	MethodFingerprint   = "fingerprint"
	MethodProbabilistic = "probabilistic"
	MethodUnattributed  = "unattributed"
)

const (
	ConversionStageChange = "stage_change"
	ConversionPurchase    = "purchase"
)

var ErrImmutable = errors.New("attribution record is immutable")

// AttributionRecord links a conversion to the click that earned it, or records that none did.
type AttributionRecord struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        string          `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	ConversionID    string          `gorm:"column:conversion_id;not null;uniqueIndex" json:"conversion_id"`
	Kind            string          `gorm:"column:kind;not null" json:"kind"`
	ClickEventID    *uuid.UUID      `gorm:"type:uuid;column:click_event_id" json:"click_event_id,omitempty"`
	AdID            string          `gorm:"column:ad_id;index" json:"ad_id,omitempty"`
	MatchMethod     string          `gorm:"column:match_method;not null;index" json:"match_method"`
	Confidence      float64         `gorm:"column:confidence;not null;default:0" json:"confidence"`
	MatchScore      float64         `gorm:"column:match_score;not null;default:0" json:"match_score"`
	FromStage       string          `gorm:"column:from_stage" json:"from_stage,omitempty"`
	ToStage         string          `gorm:"column:to_stage" json:"to_stage,omitempty"`
	RawValue        decimal.Decimal `gorm:"column:raw_value;type:numeric(14,2);not null;default:0" json:"raw_value"`
	StageConfidence float64         `gorm:"column:stage_confidence;not null;default:1" json:"stage_confidence"`
	AttributedValue decimal.Decimal `gorm:"column:attributed_value;type:numeric(14,2);not null;default:0" json:"attributed_value"`
	MatchedAt       time.Time       `gorm:"column:matched_at;not null;index" json:"matched_at"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (AttributionRecord) TableName() string { return "attribution_record" }

func (r *AttributionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r *AttributionRecord) BeforeUpdate(tx *gorm.DB) error { return ErrImmutable }
func (r *AttributionRecord) BeforeDelete(tx *gorm.DB) error { return ErrImmutable }

func (r *AttributionRecord) Attributed() bool {
	return r != nil && r.MatchMethod != MethodUnattributed && r.AdID != ""
}
