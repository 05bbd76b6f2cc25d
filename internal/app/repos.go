package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Repos struct {
	AdState       repos.AdStateRepo
	Campaign      repos.CampaignRepo
	Creative      repos.CreativeRepo
	PendingChange repos.PendingChangeRepo
	ChangeHistory repos.ChangeHistoryRepo

	ClickEvent        repos.ClickEventRepo
	AttributionRecord repos.AttributionRecordRepo
	StageValue        repos.StageValueRepo

	WinnerRecord repos.WinnerRecordRepo
	TenantConfig repos.TenantConfigRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		AdState:       repos.NewAdStateRepo(db, log),
		Campaign:      repos.NewCampaignRepo(db, log),
		Creative:      repos.NewCreativeRepo(db, log),
		PendingChange: repos.NewPendingChangeRepo(db, log),
		ChangeHistory: repos.NewChangeHistoryRepo(db, log),

		ClickEvent:        repos.NewClickEventRepo(db, log),
		AttributionRecord: repos.NewAttributionRecordRepo(db, log),
		StageValue:        repos.NewStageValueRepo(db, log),

		WinnerRecord: repos.NewWinnerRecordRepo(db, log),
		TenantConfig: repos.NewTenantConfigRepo(db, log),
	}
}
