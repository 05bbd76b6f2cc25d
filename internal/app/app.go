package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/adpilot-backend/internal/data/db"
	apphttp "github.com/yungbote/adpilot-backend/internal/http"
	"github.com/yungbote/adpilot-backend/internal/modules/orchestrator"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/signals/bus"
	"github.com/yungbote/adpilot-backend/internal/temporalx"
	"github.com/yungbote/adpilot-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Metrics  *observability.Metrics
	Redis    *goredis.Client
	Bus      bus.Bus
	Repos    Repos
	Services Services
	Server   *apphttp.Server

	temporal        temporalsdkclient.Client
	shutdownTracing func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	a := &App{Log: log, Cfg: cfg}

	a.shutdownTracing = observability.InitTracing(ctx, log, cfg.Tracing)
	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics(log)
	}

	dbs, err := db.NewService(log, cfg.DB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = dbs
	if err := dbs.AutoMigrateAll(); err != nil {
		a.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	a.Repos = wireRepos(dbs.DB(), log)
	a.Services, err = wireServices(dbs.DB(), log, cfg, a.Repos, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	n, err := a.Services.Winners.Load(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load winner index: %w", err)
	}
	a.Metrics.SetWinnerCount(n)
	log.Info("Winner index loaded", "winners", n, "dim", cfg.EmbeddingDim)

	if err := a.wireBus(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.runs(RoleOrchestrator) && cfg.Temporal.Enabled() {
		a.temporal, err = temporalx.NewClient(ctx, log, cfg.Temporal)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init temporal: %w", err)
		}
	}
	if cfg.runs(RoleAPI) {
		a.Server = apphttp.NewServer(wireRouter(a))
	}
	return a, nil
}

func (a *App) wireBus(ctx context.Context) error {
	if a.Cfg.RedisAddr == "" {
		if a.Cfg.Role != RoleAll {
			a.Log.Warn("REDIS_ADDR not set; the in-memory signal bus only reaches consumers in this process", "role", a.Cfg.Role)
		}
		a.Bus = bus.NewMemoryBus(a.Log, a.Cfg.MemoryBusSize)
		return nil
	}
	rdb, err := bus.NewRedisClient(ctx, a.Cfg.RedisAddr, a.Cfg.RedisPassword, a.Cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.Redis = rdb
	a.Bus, err = bus.NewRedisBus(a.Log, rdb, a.Cfg.SignalBus)
	if err != nil {
		return fmt.Errorf("init signal bus: %w", err)
	}
	return nil
}

// Run starts every component the configured role owns and blocks until ctx is done or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return errors.New("app not initialized")
	}
	g, ctx := errgroup.WithContext(ctx)
	svc := a.Services

	a.Metrics.StartPostgresCollector(a.Log, a.DB.DB())
	a.Metrics.StartQueueCollector(ctx, a.Log, a.Repos.PendingChange, 15*time.Second)
	a.Metrics.StartRedisCollector(ctx, a.Log, a.Redis, 15*time.Second)
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)

	g.Go(func() error {
		a.reloadOnHangup(ctx)
		return nil
	})

	if a.Cfg.runs(RoleAPI) {
		g.Go(func() error {
			return a.Server.Run(ctx, a.Cfg.HTTPAddr, a.Cfg.ShutdownTimeout)
		})
	}
	if a.Cfg.runs(RoleWorker) {
		g.Go(func() error {
			return a.Bus.Consume(ctx, svc.Ingestor.Handle)
		})
		g.Go(func() error {
			return svc.Worker.Run(ctx)
		})
	}
	if a.Cfg.runs(RoleOrchestrator) {
		g.Go(func() error {
			return a.runCycles(ctx)
		})
	}

	a.Log.Info("AdPilot running", "role", a.Cfg.Role)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) runCycles(ctx context.Context) error {
	var cycler orchestrator.Cycler = a.Services.Orchestrator
	if a.temporal != nil {
		runner, err := temporalworker.NewRunner(a.Log, a.temporal, a.Cfg.Temporal, cycler)
		if err != nil {
			return err
		}
		return runner.Run(ctx)
	}
	sched, err := orchestrator.NewScheduler(a.Log, cycler, a.Cfg.CycleSpec, a.Cfg.CycleTimeout)
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}

// reloadOnHangup re-reads the tenant defaults file on SIGHUP.
func (a *App) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.Services.Settings.Reload(); err != nil {
				a.Log.Error("Tenant config reload failed", "error", err)
				continue
			}
			a.Log.Info("Tenant config reloaded")
		}
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Services.Winners != nil {
		if n, err := a.Services.Winners.Persist(ctx); err != nil {
			a.Log.Warn("Persist winner index failed", "error", err)
		} else if n > 0 {
			a.Log.Info("Persisted winner index", "winners", n)
		}
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.Log.Warn("Tracing shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
