package changequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

var (
	ErrInvalidChange  = errors.New("invalid change")
	ErrChangeInFlight = errors.New("change already in flight for ad and action")
	ErrClaimLost      = errors.New("claim lost")
	ErrNotFound       = errors.New("change not found")
)

type Options struct {
	// Lease is how long a claim survives without a heartbeat before another worker may take it.
	Lease            time.Duration
	MaxClaimAttempts int
	JitterMin        time.Duration
	JitterMax        time.Duration
}

func DefaultOptions() Options {
	return Options{
		Lease:            2 * time.Minute,
		MaxClaimAttempts: 5,
		JitterMin:        3 * time.Second,
		JitterMax:        18 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Lease <= 0 {
		o.Lease = d.Lease
	}
	if o.MaxClaimAttempts <= 0 {
		o.MaxClaimAttempts = d.MaxClaimAttempts
	}
	if o.JitterMin <= 0 && o.JitterMax <= 0 {
		o.JitterMin, o.JitterMax = d.JitterMin, d.JitterMax
	}
	return o
}

// Proposal is a requested mutation of one ad. Zero jitter bounds take the queue defaults.
type Proposal struct {
	TenantID   string
	CampaignID string
	AdID       string
	Action     string
	Current    decimal.Decimal
	Target     decimal.Decimal
	Reason     string
	Kill       bool
	JitterMin  time.Duration
	JitterMax  time.Duration
}

type GateResult struct {
	Gate   string `json:"gate"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
}

// Outcome is what the executor observed while running a claimed change.
type Outcome struct {
	SentValue        decimal.NullDecimal
	Gates            []GateResult
	FailedGate       string
	PlatformResponse any
	Jitter           time.Duration
	Duration         time.Duration
}

// OutcomeObserver hears about every terminal outcome this process records.
type OutcomeObserver interface {
	ObserveOutcome(tenantID, outcome, gate string)
}

type Queue struct {
	db        *gorm.DB
	log       *logger.Logger
	changes   repos.PendingChangeRepo
	history   repos.ChangeHistoryRepo
	adStates  repos.AdStateRepo
	metrics   *observability.Metrics
	opts      Options
	observers []OutcomeObserver
}

func NewQueue(
	db *gorm.DB,
	baseLog *logger.Logger,
	changes repos.PendingChangeRepo,
	history repos.ChangeHistoryRepo,
	adStates repos.AdStateRepo,
	metrics *observability.Metrics,
	opts Options,
) *Queue {
	return &Queue{
		db:       db,
		log:      baseLog.With("service", "ChangeQueue"),
		changes:  changes,
		history:  history,
		adStates: adStates,
		metrics:  metrics,
		opts:     opts.withDefaults(),
	}
}

func (q *Queue) Options() Options { return q.opts }

// Observe registers o before workers start; it is not safe to call concurrently with them.
func (q *Queue) Observe(o OutcomeObserver) {
	if o != nil {
		q.observers = append(q.observers, o)
	}
}

func (q *Queue) notify(change *types.PendingChange, outcome, gate string) {
	for _, o := range q.observers {
		o.ObserveOutcome(change.TenantID, outcome, gate)
	}
}

// Propose enqueues a change. An unclaimed pending change for the same ad and action is
// superseded, or returned as-is when it already asks for the same thing. A change a
// worker holds is never replaced.
func (q *Queue) Propose(ctx context.Context, p Proposal) (uuid.UUID, error) {
	if err := q.validate(&p); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		open, err := q.changes.FindOpen(dbc, p.AdID, p.Action)
		if err != nil {
			return err
		}
		if open != nil {
			if open.Status != types.ChangeStatusPending {
				return fmt.Errorf("%w: %s is %s", ErrChangeInFlight, open.ID, open.Status)
			}
			if open.TargetValue.Equal(p.Target) && open.Kill == p.Kill {
				id = open.ID
				return nil
			}
			ok, err := q.changes.MarkSuperseded(dbc, open.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s was claimed", ErrChangeInFlight, open.ID)
			}
			q.log.Debug("Superseded pending change", "change_id", open.ID, "ad_id", p.AdID, "action", p.Action)
		}
		row := &types.PendingChange{
			TenantID:     p.TenantID,
			CampaignID:   p.CampaignID,
			AdID:         p.AdID,
			Action:       p.Action,
			CurrentValue: p.Current,
			TargetValue:  p.Target,
			Reason:       p.Reason,
			Kill:         p.Kill,
			Status:       types.ChangeStatusPending,
			JitterMinMS:  p.JitterMin.Milliseconds(),
			JitterMaxMS:  p.JitterMax.Milliseconds(),
		}
		if _, err := q.changes.Create(dbc, row); err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrChangeInFlight) {
			return uuid.Nil, err
		}
		// The partial unique index catches a concurrent proposer that won the insert.
		if open, ferr := q.changes.FindOpen(dbctx.Background(ctx), p.AdID, p.Action); ferr == nil && open != nil {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrChangeInFlight, open.ID)
		}
		return uuid.Nil, fmt.Errorf("propose change: %w", err)
	}
	return id, nil
}

func (q *Queue) validate(p *Proposal) error {
	p.TenantID = strings.TrimSpace(p.TenantID)
	p.CampaignID = strings.TrimSpace(p.CampaignID)
	p.AdID = strings.TrimSpace(p.AdID)
	p.Action = strings.TrimSpace(p.Action)
	if p.TenantID == "" || p.CampaignID == "" || p.AdID == "" {
		return fmt.Errorf("%w: tenant_id, campaign_id and ad_id are required", ErrInvalidChange)
	}
	if !types.ValidAction(p.Action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidChange, p.Action)
	}
	if p.Current.IsNegative() || p.Target.IsNegative() {
		return fmt.Errorf("%w: values must be non-negative", ErrInvalidChange)
	}
	p.Current = p.Current.Round(2)
	p.Target = p.Target.Round(2)
	if p.Action == types.ActionSetBudget {
		if !p.Target.IsPositive() {
			return fmt.Errorf("%w: budget target must be positive", ErrInvalidChange)
		}
		if p.Target.Equal(p.Current) {
			return fmt.Errorf("%w: budget target equals current value", ErrInvalidChange)
		}
	} else if p.Kill && p.Action != types.ActionPause {
		return fmt.Errorf("%w: only pause can retire an ad", ErrInvalidChange)
	}
	if p.JitterMin == 0 && p.JitterMax == 0 {
		p.JitterMin, p.JitterMax = q.opts.JitterMin, q.opts.JitterMax
	}
	if p.JitterMin < 0 || p.JitterMax < p.JitterMin {
		return fmt.Errorf("%w: jitter window [%s, %s]", ErrInvalidChange, p.JitterMin, p.JitterMax)
	}
	return nil
}

// ClaimNext hands the oldest claimable change to workerID. Changes whose lease has
// expired too many times are failed with the lease gate instead of being handed out again.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*types.PendingChange, bool, error) {
	for {
		change, err := q.changes.ClaimNext(dbctx.Background(ctx), workerID, q.opts.Lease)
		if err != nil {
			q.metrics.IncClaim("error")
			return nil, false, err
		}
		if change == nil {
			q.metrics.IncClaim("empty")
			return nil, false, nil
		}
		if change.Attempts <= q.opts.MaxClaimAttempts {
			q.metrics.IncClaim("claimed")
			return change, true, nil
		}
		q.metrics.IncClaim("exhausted")
		detail := fmt.Sprintf("lease expired after %d claims", change.Attempts-1)
		out := Outcome{
			FailedGate: types.GateLease,
			Gates:      []GateResult{{Gate: types.GateLease, Result: types.GateFailed, Detail: detail}},
		}
		if err := q.Fail(ctx, change, out, errors.New(detail)); err != nil && !errors.Is(err, ErrClaimLost) {
			return nil, false, err
		}
		q.log.Warn("Change failed after repeated lease expiry", "change_id", change.ID, "ad_id", change.AdID, "attempts", change.Attempts)
	}
}

// Begin marks a claimed change as executing, just before the external call.
func (q *Queue) Begin(ctx context.Context, change *types.PendingChange) error {
	ok, err := q.changes.MarkExecuting(dbctx.Background(ctx), change.ID, change.ClaimToken)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrClaimLost, change.ID)
	}
	change.Status = types.ChangeStatusExecuting
	return nil
}

func (q *Queue) Heartbeat(ctx context.Context, change *types.PendingChange) error {
	ok, err := q.changes.Heartbeat(dbctx.Background(ctx), change.ID, change.ClaimToken)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrClaimLost, change.ID)
	}
	return nil
}

// Complete records a successful execution: the change turns completed, the history row
// is written and the ad's state reflects what was sent, all in one transaction.
func (q *Queue) Complete(ctx context.Context, change *types.PendingChange, out Outcome) error {
	now := time.Now().UTC()
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := q.changes.Finish(dbc, change.ID, change.ClaimToken, types.ChangeStatusCompleted, map[string]interface{}{
			"executed_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrClaimLost, change.ID)
		}
		if _, err := q.history.Create(dbc, q.historyRow(change, out, types.OutcomeCompleted, "", now)); err != nil {
			return err
		}
		return q.adStates.UpdateFields(dbc, change.AdID, stateUpdates(change, out))
	})
	if err != nil {
		return err
	}
	change.Status = types.ChangeStatusCompleted
	change.ExecutedAt = &now
	q.metrics.ObserveExecution(change.Action, types.OutcomeCompleted, out.Duration)
	q.notify(change, types.OutcomeCompleted, "")
	return nil
}

// Fail records a failed execution with the gate or error that stopped it.
func (q *Queue) Fail(ctx context.Context, change *types.PendingChange, out Outcome, cause error) error {
	now := time.Now().UTC()
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := q.changes.Finish(dbc, change.ID, change.ClaimToken, types.ChangeStatusFailed, map[string]interface{}{
			"failed_gate": out.FailedGate,
			"error":       truncate(reason, 2000),
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrClaimLost, change.ID)
		}
		_, err = q.history.Create(dbc, q.historyRow(change, out, types.OutcomeFailed, reason, now))
		return err
	})
	if err != nil {
		return err
	}
	change.Status = types.ChangeStatusFailed
	change.FailedGate = out.FailedGate
	change.Error = reason
	if out.FailedGate != "" {
		q.metrics.IncGateRejection(out.FailedGate)
	}
	q.metrics.ObserveExecution(change.Action, types.OutcomeFailed, out.Duration)
	q.notify(change, types.OutcomeFailed, out.FailedGate)
	return nil
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*types.PendingChange, error) {
	c, err := q.changes.GetByID(dbctx.Background(ctx), id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (q *Queue) History(ctx context.Context, id uuid.UUID) ([]*types.ChangeHistory, error) {
	return q.history.ListByChange(dbctx.Background(ctx), id)
}

func (q *Queue) historyRow(change *types.PendingChange, out Outcome, outcome, reason string, now time.Time) *types.ChangeHistory {
	row := &types.ChangeHistory{
		ChangeID:       change.ID,
		TenantID:       change.TenantID,
		CampaignID:     change.CampaignID,
		AdID:           change.AdID,
		Action:         change.Action,
		Outcome:        outcome,
		CurrentValue:   change.CurrentValue,
		RequestedValue: change.TargetValue,
		SentValue:      out.SentValue,
		FailedGate:     out.FailedGate,
		Reason:         truncate(reason, 2000),
		WorkerID:       change.ClaimedBy,
		JitterMS:       out.Jitter.Milliseconds(),
		DurationMS:     out.Duration.Milliseconds(),
		CreatedAt:      now,
	}
	gates := out.Gates
	if gates == nil {
		gates = []GateResult{}
	}
	if raw, err := json.Marshal(gates); err == nil {
		row.Gates = datatypes.JSON(raw)
	}
	if out.PlatformResponse != nil {
		if raw, err := json.Marshal(out.PlatformResponse); err == nil {
			row.PlatformResponse = datatypes.JSON(raw)
		} else {
			q.log.Warn("Platform response not serializable", "change_id", change.ID, "error", err)
		}
	}
	return row
}

func stateUpdates(change *types.PendingChange, out Outcome) map[string]interface{} {
	switch change.Action {
	case types.ActionSetBudget:
		v := change.TargetValue
		if out.SentValue.Valid {
			v = out.SentValue.Decimal
		}
		return map[string]interface{}{"daily_budget": v}
	case types.ActionPause:
		if change.Kill {
			return map[string]interface{}{"status": types.AdStatusInactive}
		}
		return map[string]interface{}{"status": types.AdStatusPaused}
	case types.ActionResume:
		return map[string]interface{}{"status": types.AdStatusActive}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
