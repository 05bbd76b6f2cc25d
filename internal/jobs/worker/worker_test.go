package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type sliceClaimer struct {
	mu   sync.Mutex
	left []*types.PendingChange
}

func (c *sliceClaimer) ClaimNext(_ context.Context, workerID string) (*types.PendingChange, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.left) == 0 {
		return nil, false, nil
	}
	ch := c.left[0]
	c.left = c.left[1:]
	ch.ClaimedBy = workerID
	return ch, true, nil
}

type slowRunner struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
	done    atomic.Int32
}

func (r *slowRunner) Execute(ctx context.Context, _ *types.PendingChange) error {
	n := r.running.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer r.running.Add(-1)
	select {
	case <-time.After(r.delay):
		r.done.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func changes(n int) []*types.PendingChange {
	out := make([]*types.PendingChange, n)
	for i := range out {
		out[i] = &types.PendingChange{ID: uuid.New(), AdID: "ad"}
	}
	return out
}

func TestWorker_RunsConcurrentlyAndDrains(t *testing.T) {
	claimer := &sliceClaimer{left: changes(6)}
	runner := &slowRunner{delay: 50 * time.Millisecond}
	w := NewWorker(logger.NewNop(), claimer, runner, Config{ID: "w", Concurrency: 3, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.done.Load() == 6 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	assert.EqualValues(t, 3, runner.peak.Load(), "never more than Concurrency at once")
}

func TestWorker_DrainWaitsForInflight(t *testing.T) {
	claimer := &sliceClaimer{left: changes(2)}
	runner := &slowRunner{delay: 100 * time.Millisecond}
	w := NewWorker(logger.NewNop(), claimer, runner, Config{ID: "w", Concurrency: 2, PollInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return runner.running.Load() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	assert.EqualValues(t, 2, runner.done.Load(), "shutdown lets claimed changes finish")
}

func TestWorker_DrainTimeoutCancels(t *testing.T) {
	claimer := &sliceClaimer{left: changes(1)}
	runner := &slowRunner{delay: time.Hour}
	w := NewWorker(logger.NewNop(), claimer, runner, Config{ID: "w", Concurrency: 1, PollInterval: time.Millisecond, DrainTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return runner.running.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after drain timeout")
	}
	assert.Zero(t, runner.done.Load())
}
