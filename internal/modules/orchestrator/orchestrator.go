package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/modules/changequeue"
	"github.com/yungbote/adpilot-backend/internal/modules/revenue"
	"github.com/yungbote/adpilot-backend/internal/modules/scoring"
	"github.com/yungbote/adpilot-backend/internal/modules/tenantconfig"
	"github.com/yungbote/adpilot-backend/internal/modules/winners"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type TenantSettings interface {
	Get(ctx context.Context, tenantID string) tenantconfig.Settings
}

// Report summarizes one decision cycle.
type Report struct {
	Campaigns   int      `json:"campaigns"`
	Evaluated   int      `json:"evaluated"`
	Protected   int      `json:"protected"`
	Kills       int      `json:"kills"`
	BudgetMoves int      `json:"budget_moves"`
	InFlight    int      `json:"in_flight"`
	NewWinners  int      `json:"new_winners"`
	Persisted   int      `json:"persisted"`
	Errors      []string `json:"errors,omitempty"`
}

func (r *Report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Orchestrator runs the decision cycle: score every managed ad, queue the changes that
// move the campaign toward its desired allocation and promote winners into the index.
// It never talks to the ad platform; the executor drains the queue on its own schedule.
type Orchestrator struct {
	log       *logger.Logger
	adStates  repos.AdStateRepo
	campaigns repos.CampaignRepo
	creatives repos.CreativeRepo
	queue     *changequeue.Queue
	index     *winners.Index
	settings  TenantSettings
	metrics   *observability.Metrics
	tracer    trace.Tracer

	sampler scoring.Sampler
	now     func() time.Time
}

func New(
	baseLog *logger.Logger,
	adStates repos.AdStateRepo,
	campaigns repos.CampaignRepo,
	creatives repos.CreativeRepo,
	queue *changequeue.Queue,
	index *winners.Index,
	settings TenantSettings,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		log:       baseLog.With("service", "FeedbackOrchestrator"),
		adStates:  adStates,
		campaigns: campaigns,
		creatives: creatives,
		queue:     queue,
		index:     index,
		settings:  settings,
		metrics:   metrics,
		tracer:    otel.Tracer("adpilot/orchestrator"),
		sampler:   scoring.BetaSampler{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle makes one pass over every campaign with managed ads. A failing campaign is
// reported and skipped; only a failure to list campaigns aborts the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (Report, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.cycle")
	defer span.End()

	var rep Report
	refs, err := o.adStates.ListCampaigns(dbctx.Background(ctx))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.metrics.ObserveCycle("error", time.Since(start))
		return rep, fmt.Errorf("list campaigns: %w", err)
	}
	now := o.now()
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		rep.Campaigns++
		if err := o.campaign(ctx, ref, now, &rep); err != nil {
			o.log.Warn("Campaign cycle failed", "tenant_id", ref.TenantID, "campaign_id", ref.CampaignID, "error", err)
			rep.fail("campaign %s: %v", ref.CampaignID, err)
		}
	}

	if o.index != nil && rep.NewWinners > 0 {
		n, err := o.index.Persist(ctx)
		if err != nil {
			o.log.Warn("Winner index persist failed", "error", err)
			rep.fail("persist winners: %v", err)
		}
		rep.Persisted = n
	}
	if o.index != nil {
		o.metrics.SetWinnerCount(o.index.Len())
	}

	status := "ok"
	if len(rep.Errors) > 0 {
		status = "partial"
	}
	if ctx.Err() != nil {
		status = "cancelled"
	}
	span.SetAttributes(
		attribute.Int("cycle.campaigns", rep.Campaigns),
		attribute.Int("cycle.evaluated", rep.Evaluated),
		attribute.Int("cycle.kills", rep.Kills),
		attribute.Int("cycle.budget_moves", rep.BudgetMoves),
	)
	o.metrics.ObserveCycle(status, time.Since(start))
	o.log.Info("Decision cycle finished",
		"status", status,
		"campaigns", rep.Campaigns,
		"evaluated", rep.Evaluated,
		"kills", rep.Kills,
		"budget_moves", rep.BudgetMoves,
		"in_flight", rep.InFlight,
		"new_winners", rep.NewWinners,
		"duration", time.Since(start).String(),
	)
	return rep, ctx.Err()
}

func (o *Orchestrator) campaign(ctx context.Context, ref repos.CampaignRef, now time.Time, rep *Report) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.campaign", trace.WithAttributes(
		attribute.String("tenant.id", ref.TenantID),
		attribute.String("campaign.id", ref.CampaignID),
	))
	defer span.End()

	settings := o.settings.Get(ctx, ref.TenantID)
	cfg := settings.Scoring()
	ads, err := o.adStates.ListByCampaign(dbctx.Background(ctx), ref.CampaignID)
	if err != nil {
		return err
	}

	var (
		candidates []scoring.Candidate
		protected  = decimal.Zero
		current    = decimal.Zero
	)
	for _, ad := range ads {
		if ad.Status != types.AdStatusActive {
			continue
		}
		rep.Evaluated++
		current = current.Add(ad.DailyBudget)
		d := scoring.Evaluate(ad, now, cfg)
		switch d.Verdict {
		case scoring.VerdictProtect:
			// Young ads keep their budget; the rest of the campaign is rebalanced around them.
			rep.Protected++
			protected = protected.Add(ad.DailyBudget)
		case scoring.VerdictKill:
			rep.Kills++
			o.propose(ctx, rep, settings, changequeue.Proposal{
				TenantID:   ad.TenantID,
				CampaignID: ad.CampaignID,
				AdID:       ad.AdID,
				Action:     types.ActionPause,
				Current:    ad.DailyBudget,
				Reason:     d.Reason,
				Kill:       true,
			})
		default:
			candidates = append(candidates, scoring.Candidate{Ad: ad, Blended: d.Blended})
		}
	}

	o.rebalance(ctx, ref, settings, candidates, current, protected, rep)
	o.promoteWinners(ctx, ads, settings, rep)
	return nil
}

// rebalance splits the campaign budget not held by protected ads across the candidates
// and queues every move larger than the tenant's minimum delta. Each move is clamped to
// the velocity fraction of the ad's current budget so the gate can pass it.
func (o *Orchestrator) rebalance(
	ctx context.Context,
	ref repos.CampaignRef,
	settings tenantconfig.Settings,
	candidates []scoring.Candidate,
	current, protected decimal.Decimal,
	rep *Report,
) {
	if len(candidates) == 0 {
		return
	}
	total := current
	if c, err := o.campaigns.GetByCampaignID(dbctx.Background(ctx), ref.CampaignID); err != nil {
		rep.fail("campaign %s budget: %v", ref.CampaignID, err)
		return
	} else if c != nil && c.DailyBudget.IsPositive() {
		total = c.DailyBudget
	}
	pool := total.Sub(protected)
	if !pool.IsPositive() {
		return
	}
	allocs, err := scoring.Allocate(candidates, pool, settings.Scoring(), o.sampler)
	if err != nil {
		if errors.Is(err, scoring.ErrBudgetBelowFloor) {
			o.log.Warn("Campaign budget below per-ad floor; allocation skipped", "campaign_id", ref.CampaignID, "error", err)
			return
		}
		rep.fail("allocate %s: %v", ref.CampaignID, err)
		return
	}

	byAd := make(map[string]*types.AdState, len(candidates))
	for _, c := range candidates {
		byAd[c.Ad.AdID] = c.Ad
	}
	minDelta := decimal.NewFromFloat(settings.MinBudgetDelta)
	for _, a := range allocs {
		ad := byAd[a.AdID]
		target := ClampStep(ad.DailyBudget, a.Budget, settings.VelocityFraction)
		if target.Sub(ad.DailyBudget).Abs().LessThan(minDelta) || target.Equal(ad.DailyBudget) {
			continue
		}
		rep.BudgetMoves++
		o.propose(ctx, rep, settings, changequeue.Proposal{
			TenantID:   ad.TenantID,
			CampaignID: ad.CampaignID,
			AdID:       ad.AdID,
			Action:     types.ActionSetBudget,
			Current:    ad.DailyBudget,
			Target:     target,
			Reason: fmt.Sprintf("allocation weight %.3f (sample %.3f) -> %s of %s",
				a.Weight, a.Sampled, a.Budget.StringFixed(2), pool.StringFixed(2)),
		})
	}
}

// ClampStep limits a budget move to fraction of current. A zero current budget is the
// ad's first budget and is not limited.
func ClampStep(current, target decimal.Decimal, fraction float64) decimal.Decimal {
	if !current.IsPositive() || fraction <= 0 {
		return target.Round(2)
	}
	step := current.Mul(decimal.NewFromFloat(fraction)).RoundFloor(2)
	lo, hi := current.Sub(step), current.Add(step)
	switch {
	case target.LessThan(lo):
		return lo.Round(2)
	case target.GreaterThan(hi):
		return hi.Round(2)
	}
	return target.Round(2)
}

func (o *Orchestrator) propose(ctx context.Context, rep *Report, settings tenantconfig.Settings, p changequeue.Proposal) {
	p.JitterMin, p.JitterMax = settings.JitterWindow()
	id, err := o.queue.Propose(ctx, p)
	switch {
	case err == nil:
		o.metrics.IncProposal(p.Action, "queued")
		o.log.Debug("Change proposed", "change_id", id.String(), "ad_id", p.AdID, "action", p.Action, "target", p.Target.StringFixed(2))
	case errors.Is(err, changequeue.ErrChangeInFlight):
		// The held change finishes first; the next cycle re-proposes from fresh state.
		rep.InFlight++
		o.metrics.IncProposal(p.Action, "in_flight")
	default:
		o.metrics.IncProposal(p.Action, "error")
		rep.fail("propose %s %s: %v", p.Action, p.AdID, err)
	}
}

func (o *Orchestrator) promoteWinners(ctx context.Context, ads []*types.AdState, settings tenantconfig.Settings, rep *Report) {
	if o.index == nil {
		return
	}
	th := revenue.WinnerThreshold{
		ROAS:           settings.WinnerROAS,
		CTR:            settings.WinnerCTR,
		MinImpressions: settings.WinnerMinImpressions,
	}
	for _, ad := range ads {
		if o.index.Contains(ad.AdID) {
			continue
		}
		check := revenue.IsWinner(ad, th)
		if !check.Winner {
			continue
		}
		cr, err := o.creatives.GetByAdID(dbctx.Background(ctx), ad.AdID)
		if err != nil {
			rep.fail("creative %s: %v", ad.AdID, err)
			continue
		}
		if cr == nil || len(cr.Embedding.Slice()) == 0 {
			o.log.Debug("Winner has no registered creative yet", "ad_id", ad.AdID)
			continue
		}
		err = o.index.AddWinner(ad.AdID, cr.Embedding.Slice(), winners.Metadata{
			TenantID:     ad.TenantID,
			HookType:     cr.HookType,
			VisualStyle:  cr.VisualStyle,
			EmotionTag:   cr.EmotionTag,
			CTR:          check.CTR,
			PipelineROAS: check.PipelineROAS,
		})
		if err != nil {
			rep.fail("index winner %s: %v", ad.AdID, err)
			continue
		}
		rep.NewWinners++
		o.log.Info("New winner indexed", "ad_id", ad.AdID, "reason", check.Reason, "ctr", check.CTR, "pipeline_roas", check.PipelineROAS)
	}
}
