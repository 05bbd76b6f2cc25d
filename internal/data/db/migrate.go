package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// =========================
		// Ads + execution
		// =========================
		&types.Campaign{},
		&types.AdState{},
		&types.Creative{},
		&types.PendingChange{},
		&types.ChangeHistory{},

		// =========================
		// Attribution + revenue
		// =========================
		&types.ClickEvent{},
		&types.AttributionRecord{},
		&types.StageValue{},

		// =========================
		// Winners + tenant config
		// =========================
		&types.WinnerRecord{},
		&types.TenantConfig{},
	); err != nil {
		return err
	}
	return EnsureIndexes(db)
}

// EnsureIndexes creates the partial indexes gorm tags cannot express.
// Both Postgres and sqlite accept this syntax.
func EnsureIndexes(db *gorm.DB) error {
	stmts := []string{
		// click ids were once unique across tenants.
		`DROP INDEX IF EXISTS idx_click_event_click_id`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_pending_change_open
			ON pending_change (ad_id, action)
			WHERE status IN ('pending','claimed','executing')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_attribution_record_click
			ON attribution_record (click_event_id)
			WHERE click_event_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_pending_change_claimable
			ON pending_change (status, created_at)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}
