package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos/ads"
	"github.com/yungbote/adpilot-backend/internal/data/repos/attribution"
	"github.com/yungbote/adpilot-backend/internal/data/repos/revenue"
	"github.com/yungbote/adpilot-backend/internal/data/repos/tenant"
	"github.com/yungbote/adpilot-backend/internal/data/repos/winners"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type AdStateRepo = ads.AdStateRepo
type CampaignRepo = ads.CampaignRepo
type CreativeRepo = ads.CreativeRepo
type PendingChangeRepo = ads.PendingChangeRepo
type ChangeHistoryRepo = ads.ChangeHistoryRepo

type Snapshot = ads.Snapshot
type CampaignRef = ads.CampaignRef
type GateFailureCount = ads.GateFailureCount

type ClickEventRepo = attribution.ClickEventRepo
type AttributionRecordRepo = attribution.AttributionRecordRepo
type MethodCount = attribution.MethodCount

type StageValueRepo = revenue.StageValueRepo

type WinnerRecordRepo = winners.WinnerRecordRepo

type TenantConfigRepo = tenant.TenantConfigRepo

func NewAdStateRepo(db *gorm.DB, baseLog *logger.Logger) AdStateRepo {
	return ads.NewAdStateRepo(db, baseLog)
}

func NewCampaignRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRepo {
	return ads.NewCampaignRepo(db, baseLog)
}

func NewCreativeRepo(db *gorm.DB, baseLog *logger.Logger) CreativeRepo {
	return ads.NewCreativeRepo(db, baseLog)
}

func NewPendingChangeRepo(db *gorm.DB, baseLog *logger.Logger) PendingChangeRepo {
	return ads.NewPendingChangeRepo(db, baseLog)
}

func NewChangeHistoryRepo(db *gorm.DB, baseLog *logger.Logger) ChangeHistoryRepo {
	return ads.NewChangeHistoryRepo(db, baseLog)
}

func NewClickEventRepo(db *gorm.DB, baseLog *logger.Logger) ClickEventRepo {
	return attribution.NewClickEventRepo(db, baseLog)
}

func NewAttributionRecordRepo(db *gorm.DB, baseLog *logger.Logger) AttributionRecordRepo {
	return attribution.NewAttributionRecordRepo(db, baseLog)
}

func NewStageValueRepo(db *gorm.DB, baseLog *logger.Logger) StageValueRepo {
	return revenue.NewStageValueRepo(db, baseLog)
}

func NewWinnerRecordRepo(db *gorm.DB, baseLog *logger.Logger) WinnerRecordRepo {
	return winners.NewWinnerRecordRepo(db, baseLog)
}

func NewTenantConfigRepo(db *gorm.DB, baseLog *logger.Logger) TenantConfigRepo {
	return tenant.NewTenantConfigRepo(db, baseLog)
}
