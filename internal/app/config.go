package app

import (
	"strings"
	"time"

	"github.com/yungbote/adpilot-backend/internal/data/db"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/platform/envutil"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/signals/bus"
	"github.com/yungbote/adpilot-backend/internal/temporalx"
)

const (
	RoleAll          = "all"
	RoleAPI          = "api"
	RoleWorker       = "worker"
	RoleOrchestrator = "orchestrator"
)

type Config struct {
	Role string

	DB db.Config

	HTTPAddr        string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	JWTSecret       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SignalBus     bus.RedisConfig
	MemoryBusSize int

	PlatformBaseURL string
	PlatformAPIKey  string
	PlatformTimeout time.Duration

	TenantDefaultsFile string
	TenantConfigTTL    time.Duration
	StageValueTTL      time.Duration

	EmbeddingDim int

	WorkerID          string
	WorkerConcurrency int
	WorkerPoll        time.Duration
	WorkerDrain       time.Duration

	CycleSpec    string
	CycleTimeout time.Duration
	Temporal     temporalx.Config

	StatusWindow time.Duration
	StatusTTL    time.Duration

	MetricsEnabled bool
	MetricsAddr    string
	Tracing        observability.TracingConfig
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Role: strings.ToLower(envutil.String("APP_ROLE", RoleAll)),

		DB: db.Config{
			Driver:       envutil.String("DB_DRIVER", db.DriverPostgres),
			DSN:          envutil.String("POSTGRES_DSN", ""),
			Host:         envutil.String("POSTGRES_HOST", "localhost"),
			Port:         envutil.String("POSTGRES_PORT", "5432"),
			User:         envutil.String("POSTGRES_USER", "postgres"),
			Password:     envutil.String("POSTGRES_PASSWORD", ""),
			Name:         envutil.String("POSTGRES_NAME", "adpilot"),
			SQLitePath:   envutil.String("SQLITE_PATH", "adpilot.db"),
			MaxOpenConns: envutil.Int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: envutil.Int("DB_MAX_IDLE_CONNS", 5),
		},

		HTTPAddr:        ":" + envutil.String("PORT", "8080"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
		JWTSecret:       envutil.String("API_JWT_SECRET", ""),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		SignalBus: bus.RedisConfig{
			Stream:        envutil.String("SIGNAL_STREAM", ""),
			Group:         envutil.String("SIGNAL_GROUP", ""),
			Consumer:      envutil.String("SIGNAL_CONSUMER", envutil.String("HOSTNAME", "")),
			MaxLen:        int64(envutil.Int("SIGNAL_STREAM_MAXLEN", 1_000_000)),
			ReclaimIdle:   envutil.Duration("SIGNAL_RECLAIM_IDLE", time.Minute),
			MaxDeliveries: int64(envutil.Int("SIGNAL_MAX_DELIVERIES", 5)),
		},
		MemoryBusSize: envutil.Int("SIGNAL_MEMORY_BUFFER", 1024),

		PlatformBaseURL: envutil.String("AD_PLATFORM_BASE_URL", ""),
		PlatformAPIKey:  envutil.String("AD_PLATFORM_API_KEY", ""),
		PlatformTimeout: envutil.Duration("AD_PLATFORM_TIMEOUT", 30*time.Second),

		TenantDefaultsFile: envutil.String("TENANT_DEFAULTS_FILE", ""),
		TenantConfigTTL:    envutil.Duration("TENANT_CONFIG_TTL", time.Minute),
		StageValueTTL:      envutil.Duration("STAGE_VALUE_TTL", time.Minute),

		EmbeddingDim: envutil.Int("EMBEDDING_DIM", 1536),

		WorkerID:          envutil.String("WORKER_ID", envutil.String("HOSTNAME", "worker")),
		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
		WorkerPoll:        envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		WorkerDrain:       envutil.Duration("WORKER_DRAIN_TIMEOUT", 90*time.Second),

		CycleSpec:    envutil.String("FEEDBACK_CYCLE_SPEC", "0 */15 * * * *"),
		CycleTimeout: envutil.Duration("FEEDBACK_CYCLE_TIMEOUT", 10*time.Minute),
		Temporal:     temporalx.LoadConfig(),

		StatusWindow: envutil.Duration("STATUS_WINDOW", 24*time.Hour),
		StatusTTL:    envutil.Duration("STATUS_CACHE_TTL", 10*time.Second),

		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true),
		MetricsAddr:    envutil.String("METRICS_ADDR", ""),
		Tracing: observability.TracingConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "adpilot"),
			Environment: envutil.String("APP_ENV", "development"),
			Version:     envutil.String("APP_VERSION", "dev"),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     envutil.String("OTEL_EXPORTER_OTLP_HEADERS", ""),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: envutil.Float("OTEL_SAMPLE_RATIO", 1),
		},
	}
	switch cfg.Role {
	case RoleAll, RoleAPI, RoleWorker, RoleOrchestrator:
	default:
		log.Warn("Unknown APP_ROLE; running everything", "role", cfg.Role)
		cfg.Role = RoleAll
	}
	if cfg.JWTSecret == "" && cfg.runs(RoleAPI) {
		log.Warn("API_JWT_SECRET not set; API auth disabled and tenants come from request bodies")
	}
	return cfg
}

func (c Config) runs(role string) bool {
	return c.Role == RoleAll || c.Role == role
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
