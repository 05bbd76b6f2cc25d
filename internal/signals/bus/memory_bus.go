package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/signals"
)

var ErrBusClosed = errors.New("signal bus closed")

// memoryBus is the single-process bus used when REDIS_ADDR is unset. Signals are lost on
// restart and failed ones are not redelivered.
type memoryBus struct {
	log *logger.Logger
	ch  chan signals.Signal

	mu     sync.RWMutex
	closed bool
}

func NewMemoryBus(log *logger.Logger, buffer int) Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &memoryBus{
		log: log.With("service", "MemorySignalBus"),
		ch:  make(chan signals.Signal, buffer),
	}
}

func (b *memoryBus) Publish(ctx context.Context, sig signals.Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- sig:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s signal: %w", sig.Kind, ctx.Err())
	}
}

func (b *memoryBus) Consume(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-b.ch:
			if !ok {
				return nil
			}
			if err := h(ctx, sig); err != nil {
				b.log.Warn("Signal dropped", "signal_id", sig.ID, "kind", sig.Kind, "error", err)
			}
		}
	}
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}
