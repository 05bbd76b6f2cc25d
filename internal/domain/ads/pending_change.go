package ads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ActionSetBudget = "set_budget"
	ActionPause     = "pause"
	ActionResume    = "resume"
)

const (
	ChangeStatusPending    = "pending"
	ChangeStatusClaimed    = "claimed"
	ChangeStatusExecuting  = "executing"
	ChangeStatusCompleted  = "completed"
	ChangeStatusFailed     = "failed"
	ChangeStatusSuperseded = "superseded"
)

// OpenChangeStatuses are the non-terminal states; at most one row per (ad_id, action) may hold one.
var OpenChangeStatuses = []string{ChangeStatusPending, ChangeStatusClaimed, ChangeStatusExecuting}

func IsTerminalChangeStatus(status string) bool {
	switch status {
	case ChangeStatusCompleted, ChangeStatusFailed, ChangeStatusSuperseded:
		return true
	default:
		return false
	}
}

func ValidAction(action string) bool {
	switch action {
	case ActionSetBudget, ActionPause, ActionResume:
		return true
	default:
		return false
	}
}

type PendingChange struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     string          `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	CampaignID   string          `gorm:"column:campaign_id;not null;index" json:"campaign_id"`
	AdID         string          `gorm:"column:ad_id;not null;index" json:"ad_id"`
	Action       string          `gorm:"column:action;not null;index" json:"action"`
	CurrentValue decimal.Decimal `gorm:"column:current_value;type:numeric(14,2);not null;default:0" json:"current_value"`
	TargetValue  decimal.Decimal `gorm:"column:target_value;type:numeric(14,2);not null;default:0" json:"target_value"`
	Reason       string          `gorm:"column:reason" json:"reason,omitempty"`
	// Kill marks a pause issued because the ad lost; completion retires the ad.
	Kill        bool       `gorm:"column:kill;not null;default:false" json:"kill"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	ClaimedBy   string     `gorm:"column:claimed_by;index" json:"claimed_by,omitempty"`
	ClaimToken  string     `gorm:"column:claim_token" json:"-"`
	ClaimedAt   *time.Time `gorm:"column:claimed_at;index" json:"claimed_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ExecutedAt  *time.Time `gorm:"column:executed_at" json:"executed_at,omitempty"`
	JitterMinMS int64      `gorm:"column:jitter_min_ms;not null;default:3000" json:"jitter_min_ms"`
	JitterMaxMS int64      `gorm:"column:jitter_max_ms;not null;default:18000" json:"jitter_max_ms"`
	FailedGate  string     `gorm:"column:failed_gate" json:"failed_gate,omitempty"`
	Error       string     `gorm:"column:error" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (PendingChange) TableName() string { return "pending_change" }

func (p *PendingChange) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = ChangeStatusPending
	}
	return nil
}

// Delta is |target - current|, the budget movement this change requests.
func (p *PendingChange) Delta() decimal.Decimal {
	return p.TargetValue.Sub(p.CurrentValue).Abs()
}
