package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/adpilot-backend/internal/clients/adplatform"
	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/modules/changequeue"
	"github.com/yungbote/adpilot-backend/internal/modules/tenantconfig"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/platform/retry"
)

const (
	RateWindow     = time.Hour
	VelocityWindow = 6 * time.Hour
)

type TenantSettings interface {
	Get(ctx context.Context, tenantID string) tenantconfig.Settings
}

type Options struct {
	Retry retry.Config
	// CallTimeout bounds each individual platform call.
	CallTimeout       time.Duration
	HeartbeatInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		Retry:             retry.DefaultConfig(),
		CallTimeout:       15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// SafeExecutor runs claimed changes through the safety gates and, when every gate
// passes, applies them on the ad platform.
type SafeExecutor struct {
	log      *logger.Logger
	queue    *changequeue.Queue
	history  repos.ChangeHistoryRepo
	platform adplatform.Client
	settings TenantSettings
	metrics  *observability.Metrics
	tracer   trace.Tracer
	opts     Options

	sleep   func(ctx context.Context, d time.Duration) error
	uniform func() float64
	now     func() time.Time
}

func New(
	baseLog *logger.Logger,
	queue *changequeue.Queue,
	history repos.ChangeHistoryRepo,
	platform adplatform.Client,
	settings TenantSettings,
	metrics *observability.Metrics,
	opts Options,
) *SafeExecutor {
	d := DefaultOptions()
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = d.Retry
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = d.CallTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = queue.Options().Lease / 3
	}
	opts.Retry.Retryable = adplatform.IsTransient
	return &SafeExecutor{
		log:      baseLog.With("service", "SafeExecutor"),
		queue:    queue,
		history:  history,
		platform: platform,
		settings: settings,
		metrics:  metrics,
		tracer:   otel.Tracer("adpilot/executor"),
		opts:     opts,
		sleep:    sleepCtx,
		uniform:  rand.Float64,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute drives one claimed change to a terminal state. It returns an error only when
// the change could not be recorded: a lost claim, a cancelled context or a DB failure.
// Gate rejections and platform failures are recorded outcomes, not errors.
func (e *SafeExecutor) Execute(ctx context.Context, change *types.PendingChange) error {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("change.id", change.ID.String()),
		attribute.String("ad.id", change.AdID),
		attribute.String("change.action", change.Action),
	))
	defer span.End()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go e.heartbeat(runCtx, cancel, change)

	settings := e.settings.Get(ctx, change.TenantID)
	out := changequeue.Outcome{}
	log := e.log.With("change_id", change.ID.String(), "ad_id", change.AdID, "action", change.Action)

	fail := func(gate string, cause error) error {
		out.FailedGate = gate
		out.Duration = e.now().Sub(start)
		span.SetStatus(codes.Error, cause.Error())
		if err := e.queue.Fail(ctx, change, out, cause); err != nil {
			return fmt.Errorf("record failed change %s: %w", change.ID, err)
		}
		log.Info("Change failed", "gate", gate, "reason", cause.Error())
		return nil
	}
	pass := func(gate, detail string) {
		out.Gates = append(out.Gates, changequeue.GateResult{Gate: gate, Result: types.GatePassed, Detail: detail})
	}
	reject := func(gate, detail string) {
		out.Gates = append(out.Gates, changequeue.GateResult{Gate: gate, Result: types.GateFailed, Detail: detail})
	}
	skip := func(gate string) {
		out.Gates = append(out.Gates, changequeue.GateResult{Gate: gate, Result: types.GateSkipped})
	}

	// 1. jitter
	wait := JitterDelay(change, e.uniform())
	if err := e.sleep(runCtx, wait); err != nil {
		if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, changequeue.ErrClaimLost) {
			return cause
		}
		return err
	}
	out.Jitter = wait
	e.metrics.ObserveJitter(wait)
	pass(types.GateJitter, wait.Round(time.Millisecond).String())

	// 2. rate
	now := e.now()
	completed, err := e.history.CountCompletedForCampaignSince(dbctx.Background(ctx), change.CampaignID, now.Add(-RateWindow))
	if err != nil {
		return err
	}
	if gerr := CheckRate(completed, settings.RateCapPerHour); gerr != nil {
		reject(types.GateRate, gerr.(*GateError).Detail)
		return fail(types.GateRate, gerr)
	}
	pass(types.GateRate, fmt.Sprintf("%d/%d", completed, settings.RateCapPerHour))

	// 3. velocity, 4. fuzzy
	if change.Action == types.ActionSetBudget {
		recent, err := e.history.ListCompletedForAdSince(dbctx.Background(ctx), change.AdID, types.ActionSetBudget, now.Add(-VelocityWindow))
		if err != nil {
			return err
		}
		baseline, gerr := CheckVelocity(change, recent, settings.VelocityFraction)
		if gerr != nil {
			reject(types.GateVelocity, gerr.(*GateError).Detail)
			return fail(types.GateVelocity, gerr)
		}
		pass(types.GateVelocity, "baseline "+baseline.StringFixed(2))

		sent, gerr := FuzzBudget(change.TargetValue, settings.FuzzFraction, e.uniform())
		if gerr != nil {
			reject(types.GateFuzzy, gerr.(*GateError).Detail)
			return fail(types.GateFuzzy, gerr)
		}
		out.SentValue = decimal.NewNullDecimal(sent)
		pass(types.GateFuzzy, "sent "+sent.StringFixed(2))
	} else {
		skip(types.GateVelocity)
		skip(types.GateFuzzy)
	}

	// 5. platform
	if err := e.queue.Begin(ctx, change); err != nil {
		return err
	}
	resp, callErr := e.apply(runCtx, change, out.SentValue)
	if callErr != nil {
		if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, changequeue.ErrClaimLost) {
			return cause
		}
		reject(types.GatePlatform, string(adplatform.KindOf(callErr)))
		return fail(types.GatePlatform, callErr)
	}
	pass(types.GatePlatform, resp.Status)
	out.PlatformResponse = resp
	out.Duration = e.now().Sub(start)
	if err := e.queue.Complete(ctx, change, out); err != nil {
		return fmt.Errorf("record completed change %s: %w", change.ID, err)
	}
	log.Info("Change executed",
		"sent_value", out.SentValue.Decimal.String(),
		"jitter", out.Jitter.String(),
		"duration", out.Duration.String(),
	)
	return nil
}

// apply calls the platform with a per-call timeout, retrying transient failures only.
func (e *SafeExecutor) apply(ctx context.Context, change *types.PendingChange, sent decimal.NullDecimal) (adplatform.Response, error) {
	m := adplatform.Mutation{
		TenantID:       change.TenantID,
		CampaignID:     change.CampaignID,
		AdID:           change.AdID,
		Action:         change.Action,
		Budget:         sent,
		IdempotencyKey: change.ID.String(),
	}
	var resp adplatform.Response
	err := retry.WithBackoff(ctx, e.opts.Retry, e.log, "adplatform.apply", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		callCtx, span := e.tracer.Start(callCtx, "adplatform.apply", trace.WithAttributes(
			attribute.String("ad.id", change.AdID),
			attribute.String("change.action", change.Action),
		))
		defer span.End()

		t0 := time.Now()
		r, err := e.platform.Apply(callCtx, m)
		status := "ok"
		if err != nil {
			status = string(adplatform.KindOf(err))
			if status == "" {
				status = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
			// A per-call deadline is a transient failure even if the client did not say so.
			if callCtx.Err() != nil && ctx.Err() == nil && adplatform.KindOf(err) == "" {
				err = &adplatform.Error{Kind: adplatform.ErrorTransient, Action: change.Action, Message: "call timed out", Cause: err}
			}
		}
		e.metrics.ObservePlatformCall(change.Action, status, time.Since(t0))
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (e *SafeExecutor) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, change *types.PendingChange) {
	t := time.NewTicker(e.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := e.queue.Heartbeat(ctx, change)
			if errors.Is(err, changequeue.ErrClaimLost) {
				e.log.Warn("Claim lost during execution", "change_id", change.ID.String())
				cancel(err)
				return
			}
			if err != nil && ctx.Err() == nil {
				e.log.Warn("Heartbeat failed", "change_id", change.ID.String(), "error", err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
