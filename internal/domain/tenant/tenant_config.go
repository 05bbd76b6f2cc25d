package tenant

import (
	"time"

	"gorm.io/datatypes"
)

// TenantConfig holds per-tenant threshold overrides as a JSON document.
type TenantConfig struct {
	TenantID  string         `gorm:"column:tenant_id;primaryKey" json:"tenant_id"`
	Settings  datatypes.JSON `gorm:"column:settings;type:jsonb" json:"settings"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (TenantConfig) TableName() string { return "tenant_config" }
