package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/clients/adplatform"
	"github.com/yungbote/adpilot-backend/internal/jobs/worker"
	"github.com/yungbote/adpilot-backend/internal/modules/attribution"
	"github.com/yungbote/adpilot-backend/internal/modules/changequeue"
	"github.com/yungbote/adpilot-backend/internal/modules/executor"
	"github.com/yungbote/adpilot-backend/internal/modules/orchestrator"
	"github.com/yungbote/adpilot-backend/internal/modules/revenue"
	"github.com/yungbote/adpilot-backend/internal/modules/status"
	"github.com/yungbote/adpilot-backend/internal/modules/tenantconfig"
	"github.com/yungbote/adpilot-backend/internal/modules/winners"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/signals"
)

type Services struct {
	Settings     *tenantconfig.Provider
	Revenue      *revenue.Calculator
	Attribution  *attribution.Service
	Queue        *changequeue.Queue
	Executor     *executor.SafeExecutor
	Winners      *winners.Index
	Orchestrator *orchestrator.Orchestrator
	Status       *status.Service
	Ingestor     *signals.Ingestor
	Worker       *worker.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	settings, err := tenantconfig.NewProvider(log, r.TenantConfig, tenantconfig.Options{
		DefaultsFile: cfg.TenantDefaultsFile,
		TTL:          cfg.TenantConfigTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init tenant config: %w", err)
	}

	platform := adplatform.NewDryRun(log)
	if cfg.PlatformBaseURL != "" {
		platform, err = adplatform.NewHTTP(log, adplatform.HTTPConfig{
			BaseURL: cfg.PlatformBaseURL,
			APIKey:  cfg.PlatformAPIKey,
			Timeout: cfg.PlatformTimeout,
		})
		if err != nil {
			return Services{}, fmt.Errorf("init ad platform client: %w", err)
		}
	} else {
		log.Warn("AD_PLATFORM_BASE_URL not set; changes run in dry-run mode")
	}

	revenueCalc := revenue.NewCalculator(log, r.StageValue, cfg.StageValueTTL, 0)
	attr := attribution.NewService(db, log, r.ClickEvent, r.AttributionRecord, r.AdState, revenueCalc, metrics, attribution.DefaultOptions())

	queue := changequeue.NewQueue(db, log, r.PendingChange, r.ChangeHistory, r.AdState, metrics, changequeue.DefaultOptions())
	statusSvc := status.NewService(log, r.ChangeHistory, r.AttributionRecord, r.PendingChange, cfg.StatusWindow, cfg.StatusTTL)
	queue.Observe(statusSvc)

	exec := executor.New(log, queue, r.ChangeHistory, platform, settings, metrics, executor.DefaultOptions())
	index := winners.NewIndex(log, r.WinnerRecord, cfg.EmbeddingDim)
	orch := orchestrator.New(log, r.AdState, r.Campaign, r.Creative, queue, index, settings, metrics)

	return Services{
		Settings:     settings,
		Revenue:      revenueCalc,
		Attribution:  attr,
		Queue:        queue,
		Executor:     exec,
		Winners:      index,
		Orchestrator: orch,
		Status:       statusSvc,
		Ingestor:     signals.NewIngestor(db, log, r.AdState, r.Campaign, attr, metrics),
		Worker: worker.NewWorker(log, queue, exec, worker.Config{
			ID:           cfg.WorkerID,
			Concurrency:  cfg.WorkerConcurrency,
			PollInterval: cfg.WorkerPoll,
			DrainTimeout: cfg.WorkerDrain,
		}),
	}, nil
}
