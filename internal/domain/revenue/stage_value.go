package revenue

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StageLead        = "lead"
	StageQualified   = "qualified"
	StageProposal    = "proposal"
	StageNegotiation = "negotiation"
	StageWon         = "won"
	StageLost        = "lost"
)

// StageValue is a tenant's monetary value and confidence weight for one pipeline stage.
type StageValue struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   string          `gorm:"column:tenant_id;not null;uniqueIndex:idx_stage_value_tenant_stage,priority:1" json:"tenant_id"`
	Stage      string          `gorm:"column:stage;not null;uniqueIndex:idx_stage_value_tenant_stage,priority:2" json:"stage"`
	Value      decimal.Decimal `gorm:"column:value;type:numeric(14,2);not null;default:0" json:"value"`
	Confidence float64         `gorm:"column:confidence;not null;default:1" json:"confidence"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null;index" json:"updated_at"`
}

func (StageValue) TableName() string { return "stage_value" }

func (s *StageValue) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
