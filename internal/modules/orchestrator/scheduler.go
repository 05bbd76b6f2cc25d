package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Cycler interface {
	RunCycle(ctx context.Context) (Report, error)
}

// Scheduler triggers decision cycles on a cron spec (seconds field optional). Runs never
// overlap; a tick that lands while a cycle is still going is skipped.
type Scheduler struct {
	log     *logger.Logger
	cron    *cron.Cron
	cycler  Cycler
	spec    string
	timeout time.Duration
}

func NewScheduler(baseLog *logger.Logger, cycler Cycler, spec string, timeout time.Duration) (*Scheduler, error) {
	if cycler == nil {
		return nil, fmt.Errorf("cycler required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	log := baseLog.With("component", "CycleScheduler")
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{log: log, cron: c, cycler: cycler, spec: spec, timeout: timeout}
	return s, nil
}

// Run blocks until ctx is done, then waits for a running cycle to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.log.Info("Starting decision cycle scheduler", "spec", s.spec, "timeout", s.timeout.String())
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("Decision cycle scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.cycler.RunCycle(rctx); err != nil {
		s.log.Warn("Decision cycle failed", "error", err)
	}
}

type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(keysAndValues, "error", err)...)
}
