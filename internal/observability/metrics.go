package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	apiInflight   prometheus.Gauge
	executions    *prometheus.CounterVec
	execLatency   *prometheus.HistogramVec
	gateRejects   *prometheus.CounterVec
	jitterSeconds prometheus.Histogram
	platformCalls *prometheus.HistogramVec
	claims        *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	cycleDuration *prometheus.HistogramVec
	cycleProposed *prometheus.CounterVec
	attributions  *prometheus.CounterVec
	signals       *prometheus.CounterVec
	winnerCount   prometheus.Gauge
	redisUp       prometheus.Gauge
	redisPing     prometheus.Gauge
}

func NewMetrics(log *logger.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_api_requests_total", Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adp_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adp_api_inflight_requests", Help: "In-flight API requests.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_change_executions_total", Help: "Executed changes by action/outcome.",
		}, []string{"action", "outcome"}),
		execLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adp_change_execution_duration_seconds",
			Help:    "Claim-to-terminal duration of a change, jitter included.",
			Buckets: []float64{1, 3, 5, 10, 15, 20, 30, 60, 120},
		}, []string{"action", "outcome"}),
		gateRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_gate_rejections_total", Help: "Changes failed by a safety gate.",
		}, []string{"gate"}),
		jitterSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adp_jitter_wait_seconds",
			Help:    "Jitter wait applied before platform mutations.",
			Buckets: []float64{1, 3, 5, 8, 11, 14, 18, 25},
		}),
		platformCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adp_platform_call_duration_seconds",
			Help:    "Ad platform mutation latency by action/status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"action", "status"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_change_claims_total", Help: "Claim attempts by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adp_change_queue_depth", Help: "Pending changes by status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adp_feedback_cycle_duration_seconds",
			Help:    "Feedback cycle duration by status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		cycleProposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_feedback_cycle_proposals_total", Help: "Changes proposed by the feedback cycle by action/result.",
		}, []string{"action", "result"}),
		attributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_attributions_total", Help: "Conversions attributed by match method.",
		}, []string{"method"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adp_signals_total", Help: "Signals consumed from the bus by kind/status.",
		}, []string{"kind", "status"}),
		winnerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adp_winner_index_size", Help: "Entries in the winner index.",
		}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adp_redis_up", Help: "Redis connectivity (1=up, 0=down).",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adp_redis_ping_seconds", Help: "Redis ping latency in seconds.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.executions, m.execLatency, m.gateRejects, m.jitterSeconds, m.platformCalls,
		m.claims, m.queueDepth, m.cycleDuration, m.cycleProposed,
		m.attributions, m.signals, m.winnerCount, m.redisUp, m.redisPing,
	)
	if log != nil {
		log.Info("Observability metrics enabled")
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on a dedicated listener until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveExecution(action, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(action, outcome).Inc()
	m.execLatency.WithLabelValues(action, outcome).Observe(dur.Seconds())
}

func (m *Metrics) IncGateRejection(gate string) {
	if m == nil {
		return
	}
	m.gateRejects.WithLabelValues(gate).Inc()
}

func (m *Metrics) ObserveJitter(d time.Duration) {
	if m == nil {
		return
	}
	m.jitterSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObservePlatformCall(action, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.platformCalls.WithLabelValues(action, status).Observe(dur.Seconds())
}

func (m *Metrics) IncClaim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCycle(status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(status).Observe(dur.Seconds())
}

func (m *Metrics) IncProposal(action, result string) {
	if m == nil {
		return
	}
	m.cycleProposed.WithLabelValues(action, result).Inc()
}

func (m *Metrics) IncAttribution(method string) {
	if m == nil {
		return
	}
	m.attributions.WithLabelValues(method).Inc()
}

func (m *Metrics) IncSignal(kind, status string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) SetWinnerCount(n int) {
	if m == nil {
		return
	}
	m.winnerCount.Set(float64(n))
}

// StartPostgresCollector registers the sql.DB pool stats collector.
func (m *Metrics) StartPostgresCollector(log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		if log != nil {
			log.Warn("metrics: sql db handle unavailable", "error", err)
		}
		return
	}
	if err := m.reg.Register(collectors.NewDBStatsCollector(sqlDB, "adpilot")); err != nil && log != nil {
		log.Warn("metrics: db stats collector not registered", "error", err)
	}
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := rdb.Ping(pingCtx).Err()
				cancel()
				if err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Debug("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartQueueCollector polls pending_change counts by status.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, changes repos.PendingChangeRepo, interval time.Duration) {
	if m == nil || changes == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	statuses := []string{
		types.ChangeStatusPending, types.ChangeStatusClaimed, types.ChangeStatusExecuting,
		types.ChangeStatusCompleted, types.ChangeStatusFailed, types.ChangeStatusSuperseded,
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := changes.CountByStatus(dbctx.Background(ctx))
				if err != nil {
					if log != nil {
						log.Warn("metrics: change queue depth query failed", "error", err)
					}
					continue
				}
				for _, s := range statuses {
					m.queueDepth.WithLabelValues(s).Set(float64(counts[s]))
				}
			}
		}
	}()
}
