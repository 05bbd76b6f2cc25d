package status

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

const (
	HealthIdle             = "idle"
	HealthOK               = "healthy"
	HealthGatePressure     = "gate_pressure"
	HealthPlatformDegraded = "platform_degraded"
)

// A failure rate at or above this marks the window unhealthy.
const unhealthyRate = 0.2

// maxCachedViews bounds the per-tenant view cache; the tenant key comes from requests.
const maxCachedViews = 512

var reportedGates = []string{
	types.GateRate,
	types.GateVelocity,
	types.GateFuzzy,
	types.GateLease,
	types.GatePlatform,
}

type GateRate struct {
	Gate     string  `json:"gate"`
	Failures int64   `json:"failures"`
	Rate     float64 `json:"rate"`
}

type View struct {
	TenantID    string           `json:"tenant_id,omitempty"`
	Window      string           `json:"window"`
	Since       time.Time        `json:"since"`
	GeneratedAt time.Time        `json:"generated_at"`
	Health      string           `json:"health"`
	Attempts    int64            `json:"attempts"`
	Failures    int64            `json:"failures"`
	FailureRate float64          `json:"failure_rate"`
	Gates       []GateRate       `json:"gates"`
	Queue       map[string]int64 `json:"queue"`
	Attribution map[string]int64 `json:"attribution"`
	// Process counts what this process recorded since it started.
	Process map[string]int64 `json:"process"`
}

type cachedView struct {
	view    View
	fetched time.Time
}

// Service summarizes recent execution outcomes so sustained gate rejections can be told
// apart from an ad platform outage.
type Service struct {
	log     *logger.Logger
	history repos.ChangeHistoryRepo
	records repos.AttributionRecordRepo
	changes repos.PendingChangeRepo
	window  time.Duration
	ttl     time.Duration

	cache   *expirable.LRU[string, cachedView]
	tallies *xsync.Map[string, *atomic.Int64]
	now     func() time.Time
}

func NewService(
	baseLog *logger.Logger,
	history repos.ChangeHistoryRepo,
	records repos.AttributionRecordRepo,
	changes repos.PendingChangeRepo,
	window, ttl time.Duration,
) *Service {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Service{
		log:     baseLog.With("service", "StatusService"),
		history: history,
		records: records,
		changes: changes,
		window:  window,
		ttl:     ttl,
		cache:   newViewCache(maxCachedViews, ttl),
		tallies: xsync.NewMap[string, *atomic.Int64](),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ObserveOutcome counts a terminal outcome in the process tallies.
func (s *Service) ObserveOutcome(_ string, outcome, gate string) {
	key := outcome
	if outcome == types.OutcomeFailed && gate != "" {
		key = outcome + ":" + gate
	}
	c, _ := s.tallies.LoadOrCompute(key, func() (*atomic.Int64, bool) {
		return &atomic.Int64{}, false
	})
	c.Add(1)
}

// View returns the status for tenantID, or across tenants when it is empty. Results are
// cached for the service TTL.
func (s *Service) View(ctx context.Context, tenantID string) (View, error) {
	now := s.now()
	if c, ok := s.cache.Get(tenantID); ok && now.Sub(c.fetched) < s.ttl {
		v := c.view
		v.Process = s.process()
		return v, nil
	}

	since := now.Add(-s.window)
	dbc := dbctx.Background(ctx)
	total, failures, err := s.history.CountOutcomesSince(dbc, tenantID, since)
	if err != nil {
		return View{}, err
	}
	methods, err := s.records.CountByMethodSince(dbc, tenantID, since)
	if err != nil {
		return View{}, err
	}
	queue, err := s.changes.CountByStatus(dbc)
	if err != nil {
		return View{}, err
	}

	v := Summarize(total, failures)
	v.TenantID = tenantID
	v.Window = s.window.String()
	v.Since = since
	v.GeneratedAt = now
	v.Queue = queue
	v.Attribution = make(map[string]int64, len(methods))
	for _, m := range methods {
		v.Attribution[m.Method] = m.Count
	}
	s.cache.Add(tenantID, cachedView{view: v, fetched: now})
	if v.Health != HealthOK && v.Health != HealthIdle {
		s.log.Warn("Execution health degraded", "tenant_id", tenantID, "health", v.Health, "failure_rate", v.FailureRate)
	}
	v.Process = s.process()
	return v, nil
}

// Summarize turns raw outcome counts into per-gate rates and a health verdict. Platform
// failures are judged on their own so an outage is never reported as gate pressure.
func Summarize(total int64, failures []repos.GateFailureCount) View {
	v := View{Attempts: total, Health: HealthIdle}
	byGate := make(map[string]int64, len(failures))
	for _, f := range failures {
		byGate[f.Gate] += f.Count
		v.Failures += f.Count
	}
	rate := func(n int64) float64 {
		if total <= 0 {
			return 0
		}
		return float64(n) / float64(total)
	}
	for _, g := range reportedGates {
		v.Gates = append(v.Gates, GateRate{Gate: g, Failures: byGate[g], Rate: rate(byGate[g])})
		delete(byGate, g)
	}
	extra := make([]string, 0, len(byGate))
	for g := range byGate {
		extra = append(extra, g)
	}
	sort.Strings(extra)
	for _, g := range extra {
		v.Gates = append(v.Gates, GateRate{Gate: g, Failures: byGate[g], Rate: rate(byGate[g])})
	}
	v.FailureRate = rate(v.Failures)
	if total == 0 {
		return v
	}

	var platform, pressure float64
	for _, g := range v.Gates {
		switch g.Gate {
		case types.GatePlatform:
			platform = g.Rate
		case types.GateRate, types.GateVelocity:
			pressure += g.Rate
		}
	}
	switch {
	case platform >= unhealthyRate:
		v.Health = HealthPlatformDegraded
	case pressure >= unhealthyRate:
		v.Health = HealthGatePressure
	default:
		v.Health = HealthOK
	}
	return v
}

func newViewCache(size int, ttl time.Duration) *expirable.LRU[string, cachedView] {
	return expirable.NewLRU[string, cachedView](size, nil, ttl)
}

func (s *Service) process() map[string]int64 {
	out := map[string]int64{}
	s.tallies.Range(func(k string, c *atomic.Int64) bool {
		out[k] = c.Load()
		return true
	})
	return out
}
