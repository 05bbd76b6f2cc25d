package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// ErrExhausted wraps the last error once every attempt has been spent.
var ErrExhausted = errors.New("retry attempts exhausted")

// WithBackoff executes fn with exponential backoff. Non-retryable errors return immediately.
func WithBackoff(ctx context.Context, cfg Config, log *logger.Logger, operation string, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 && log != nil {
				log.Info("Operation succeeded after retries", "operation", operation, "attempts", attempt)
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Backoff(cfg, attempt)
		if log != nil {
			log.Warn("Operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"retry_in", delay.String(),
				"error", lastErr,
			)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", operation, ErrExhausted, cfg.MaxAttempts, lastErr)
}

// Backoff returns the delay before the attempt following `attempt` (1-based).
func Backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}
	return time.Duration(delay)
}
