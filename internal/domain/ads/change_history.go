package ads

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	GateJitter   = "jitter"
	GateRate     = "rate"
	GateVelocity = "velocity"
	GateFuzzy    = "fuzzy"
	GateLease    = "lease"
	GatePlatform = "platform"
)

const (
	GatePassed  = "pass"
	GateFailed  = "fail"
	GateSkipped = "skip"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var ErrImmutable = errors.New("record is immutable")

// ChangeHistory is the append-only audit row for one terminal execution attempt.
type ChangeHistory struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	ChangeID         uuid.UUID           `gorm:"type:uuid;column:change_id;not null;index" json:"change_id"`
	TenantID         string              `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	CampaignID       string              `gorm:"column:campaign_id;not null;index:idx_change_history_campaign_time,priority:1" json:"campaign_id"`
	AdID             string              `gorm:"column:ad_id;not null;index:idx_change_history_ad_time,priority:1" json:"ad_id"`
	Action           string              `gorm:"column:action;not null" json:"action"`
	Outcome          string              `gorm:"column:outcome;not null;index" json:"outcome"`
	CurrentValue     decimal.Decimal     `gorm:"column:current_value;type:numeric(14,2);not null;default:0" json:"current_value"`
	RequestedValue   decimal.Decimal     `gorm:"column:requested_value;type:numeric(14,2);not null;default:0" json:"requested_value"`
	SentValue        decimal.NullDecimal `gorm:"column:sent_value;type:numeric(14,2)" json:"sent_value"`
	Gates            datatypes.JSON      `gorm:"column:gates;type:jsonb" json:"gates"`
	FailedGate       string              `gorm:"column:failed_gate;index" json:"failed_gate,omitempty"`
	Reason           string              `gorm:"column:reason" json:"reason,omitempty"`
	PlatformResponse datatypes.JSON      `gorm:"column:platform_response;type:jsonb" json:"platform_response,omitempty"`
	WorkerID         string              `gorm:"column:worker_id" json:"worker_id,omitempty"`
	JitterMS         int64               `gorm:"column:jitter_ms;not null;default:0" json:"jitter_ms"`
	DurationMS       int64               `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	CreatedAt        time.Time           `gorm:"not null;index;index:idx_change_history_campaign_time,priority:2;index:idx_change_history_ad_time,priority:2" json:"created_at"`
}

func (ChangeHistory) TableName() string { return "change_history" }

func (h *ChangeHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

func (h *ChangeHistory) BeforeUpdate(tx *gorm.DB) error { return ErrImmutable }
func (h *ChangeHistory) BeforeDelete(tx *gorm.DB) error { return ErrImmutable }
