package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/signals"
)

const payloadField = "signal"

type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxLen trims the stream approximately on every publish; 0 keeps everything.
	MaxLen int64
	Count  int64
	Block  time.Duration
	// ReclaimIdle is how long a delivered signal may stay unacknowledged before another
	// consumer takes it over.
	ReclaimIdle time.Duration
	// MaxDeliveries bounds redelivery; past it the signal is acknowledged and dropped.
	MaxDeliveries int64
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Stream == "" {
		c.Stream = "adpilot:signals"
	}
	if c.Group == "" {
		c.Group = "adpilot-ingest"
	}
	if c.Consumer == "" {
		c.Consumer = "ingest-1"
	}
	if c.Count <= 0 {
		c.Count = 100
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = time.Minute
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	return c
}

type redisBus struct {
	log *logger.Logger
	rdb *goredis.Client
	cfg RedisConfig
}

// NewRedisClient connects and pings, failing fast when Redis is unreachable.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisBus carries signals over a Redis stream read through a consumer group, so
// several ingest processes share the load and unacknowledged signals survive restarts.
func NewRedisBus(log *logger.Logger, rdb *goredis.Client, cfg RedisConfig) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	cfg = cfg.withDefaults()
	return &redisBus{
		log: log.With("service", "RedisSignalBus", "stream", cfg.Stream),
		rdb: rdb,
		cfg: cfg,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, sig signals.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	args := &goredis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]interface{}{payloadField: string(raw)},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", b.cfg.Stream, err)
	}
	return nil
}

func (b *redisBus) Consume(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}
	b.log.Info("Signal consumer ready", "group", b.cfg.Group, "consumer", b.cfg.Consumer)

	// Drain whatever this consumer left pending before a restart, then take new entries.
	lastID := "0"
	backoff := time.Second
	nextReclaim := time.Now().Add(b.cfg.ReclaimIdle)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Now().After(nextReclaim) {
			b.reclaim(ctx, h)
			nextReclaim = time.Now().Add(b.cfg.ReclaimIdle)
		}

		streams, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, lastID},
			Count:    b.cfg.Count,
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("Stream read failed, retrying", "error", err, "retry_in", backoff.String())
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, 30*time.Second)
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = time.Second

		n := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				n++
				b.deliver(ctx, h, msg)
			}
		}
		if lastID == "0" && n == 0 {
			lastID = ">"
		}
	}
}

func (b *redisBus) ensureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", b.cfg.Group, err)
	}
	return nil
}

func (b *redisBus) deliver(ctx context.Context, h Handler, msg goredis.XMessage) {
	raw, _ := msg.Values[payloadField].(string)
	var sig signals.Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		b.log.Warn("Bad signal payload, dropping", "entry_id", msg.ID, "error", err)
		b.ack(ctx, msg.ID)
		return
	}
	err := h(ctx, sig)
	switch {
	case err == nil:
		b.ack(ctx, msg.ID)
	case errors.Is(err, signals.ErrInvalidSignal):
		b.log.Warn("Invalid signal, dropping", "entry_id", msg.ID, "signal_id", sig.ID, "kind", sig.Kind, "error", err)
		b.ack(ctx, msg.ID)
	default:
		b.log.Warn("Signal failed, left pending", "entry_id", msg.ID, "signal_id", sig.ID, "kind", sig.Kind, "error", err)
	}
}

// reclaim takes over signals idle past ReclaimIdle (from this or a dead consumer) and
// drops those delivered MaxDeliveries times already.
func (b *redisBus) reclaim(ctx context.Context, h Handler) {
	pending, err := b.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  b.cfg.Group,
		Idle:   b.cfg.ReclaimIdle,
		Start:  "-",
		End:    "+",
		Count:  b.cfg.Count,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.log.Warn("Pending scan failed", "error", err)
		}
		return
	}
	var retry []string
	for _, p := range pending {
		if p.RetryCount >= b.cfg.MaxDeliveries {
			b.log.Error("Signal exceeded delivery limit, dropping", "entry_id", p.ID, "deliveries", p.RetryCount)
			b.ack(ctx, p.ID)
			continue
		}
		retry = append(retry, p.ID)
	}
	if len(retry) == 0 {
		return
	}
	msgs, err := b.rdb.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   b.cfg.Stream,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ReclaimIdle,
		Messages: retry,
	}).Result()
	if err != nil {
		b.log.Warn("Claim of idle signals failed", "error", err)
		return
	}
	for _, msg := range msgs {
		b.deliver(ctx, h, msg)
	}
}

func (b *redisBus) ack(ctx context.Context, id string) {
	if err := b.rdb.XAck(ctx, b.cfg.Stream, b.cfg.Group, id).Err(); err != nil && ctx.Err() == nil {
		b.log.Warn("Ack failed", "entry_id", id, "error", err)
	}
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}
