package winners

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// WinnerRecord is the durable snapshot of one WinnerIndex entry. Embedding is stored L2-normalized.
type WinnerRecord struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AdID         string          `gorm:"column:ad_id;not null;uniqueIndex" json:"ad_id"`
	TenantID     string          `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Dim          int             `gorm:"column:dim;not null" json:"dim"`
	Embedding    pgvector.Vector `gorm:"column:embedding;type:vector" json:"-"`
	HookType     string          `gorm:"column:hook_type" json:"hook_type,omitempty"`
	VisualStyle  string          `gorm:"column:visual_style" json:"visual_style,omitempty"`
	EmotionTag   string          `gorm:"column:emotion_tag" json:"emotion_tag,omitempty"`
	CTR          float64         `gorm:"column:ctr;not null;default:0" json:"ctr"`
	PipelineROAS float64         `gorm:"column:pipeline_roas;not null;default:0" json:"pipeline_roas"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null;index" json:"updated_at"`
}

func (WinnerRecord) TableName() string { return "winner_record" }

func (w *WinnerRecord) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
