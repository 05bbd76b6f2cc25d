package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Claimer interface {
	ClaimNext(ctx context.Context, workerID string) (*types.PendingChange, bool, error)
}

type Runner interface {
	Execute(ctx context.Context, change *types.PendingChange) error
}

type Config struct {
	// ID identifies this process in claimed_by; each slot appends its own suffix.
	ID           string
	Concurrency  int
	PollInterval time.Duration
	// DrainTimeout bounds how long in-flight changes may keep running after shutdown.
	DrainTimeout time.Duration
}

// Worker claims changes and runs each one on its own pool slot, so a change sitting in
// its jitter wait never holds up another.
type Worker struct {
	log    *logger.Logger
	claims Claimer
	runner Runner
	cfg    Config

	inflight atomic.Int64
	slot     atomic.Int64
}

func NewWorker(baseLog *logger.Logger, claims Claimer, runner Runner, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 90 * time.Second
	}
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	return &Worker{
		log:    baseLog.With("component", "ChangeWorker"),
		claims: claims,
		runner: runner,
		cfg:    cfg,
	}
}

// Run claims until ctx is done, then stops claiming and waits for in-flight changes up
// to DrainTimeout, after which their context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	pool := pond.NewPool(w.cfg.Concurrency)
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	w.log.Info("Starting change worker pool", "concurrency", w.cfg.Concurrency, "worker_id", w.cfg.ID)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.fill(ctx, execCtx, pool)
		select {
		case <-ctx.Done():
			w.log.Info("Draining change worker pool", "inflight", w.inflight.Load())
			done := make(chan struct{})
			go func() {
				pool.StopAndWait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(w.cfg.DrainTimeout):
				w.log.Warn("Drain timeout reached; cancelling in-flight changes", "inflight", w.inflight.Load())
				cancelExec()
				<-done
			}
			w.log.Info("Change worker pool stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// fill claims until every slot is busy or the queue is empty.
func (w *Worker) fill(ctx, execCtx context.Context, pool pond.Pool) {
	for w.inflight.Load() < int64(w.cfg.Concurrency) {
		if ctx.Err() != nil {
			return
		}
		slotID := fmt.Sprintf("%s-%d", w.cfg.ID, w.slot.Add(1)%int64(w.cfg.Concurrency))
		change, ok, err := w.claims.ClaimNext(ctx, slotID)
		if err != nil {
			w.log.Warn("ClaimNext failed", "worker_id", slotID, "error", err)
			return
		}
		if !ok {
			return
		}
		w.inflight.Add(1)
		pool.Submit(func() {
			defer w.inflight.Add(-1)
			w.run(execCtx, slotID, change)
		})
	}
}

func (w *Worker) run(ctx context.Context, workerID string, change *types.PendingChange) {
	defer func() {
		if r := recover(); r != nil {
			// The claim lapses and the change is reclaimed after its lease.
			w.log.Error("Change execution panic", "worker_id", workerID, "change_id", change.ID.String(), "panic", r)
		}
	}()
	if err := w.runner.Execute(ctx, change); err != nil {
		w.log.Warn("Change execution did not finish",
			"worker_id", workerID,
			"change_id", change.ID.String(),
			"ad_id", change.AdID,
			"error", err,
		)
	}
}
