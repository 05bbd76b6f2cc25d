package ads

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Creative is the embedding and descriptive tags registered for an ad's creative.
type Creative struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AdID        string          `gorm:"column:ad_id;not null;uniqueIndex" json:"ad_id"`
	TenantID    string          `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Embedding   pgvector.Vector `gorm:"column:embedding;type:vector" json:"-"`
	HookType    string          `gorm:"column:hook_type" json:"hook_type,omitempty"`
	VisualStyle string          `gorm:"column:visual_style" json:"visual_style,omitempty"`
	EmotionTag  string          `gorm:"column:emotion_tag" json:"emotion_tag,omitempty"`
	CreatedAt   time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;index" json:"updated_at"`
}

func (Creative) TableName() string { return "creative" }

func (c *Creative) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
