package bus

import (
	"context"

	"github.com/yungbote/adpilot-backend/internal/signals"
)

// Handler processes one delivered signal. A nil return acknowledges it; an error wrapping
// signals.ErrInvalidSignal drops it; any other error leaves it for redelivery.
type Handler func(ctx context.Context, sig signals.Signal) error

type Bus interface {
	Publish(ctx context.Context, sig signals.Signal) error
	// Consume blocks until ctx is done, handing every signal to h.
	Consume(ctx context.Context, h Handler) error
	Close() error
}
