package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/modules/attribution"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Attributor interface {
	RecordClick(ctx context.Context, in attribution.Click) (*types.ClickEvent, error)
	Attribute(ctx context.Context, conv attribution.Conversion) (attribution.Result, error)
}

// Ingestor applies settled signals: performance readings land on the ad state ledger,
// clicks are stored for matching and conversions go through attribution.
type Ingestor struct {
	db        *gorm.DB
	log       *logger.Logger
	adStates  repos.AdStateRepo
	campaigns repos.CampaignRepo
	attr      Attributor
	metrics   *observability.Metrics
}

func NewIngestor(
	db *gorm.DB,
	baseLog *logger.Logger,
	adStates repos.AdStateRepo,
	campaigns repos.CampaignRepo,
	attr Attributor,
	metrics *observability.Metrics,
) *Ingestor {
	return &Ingestor{
		db:        db,
		log:       baseLog.With("service", "SignalIngestor"),
		adStates:  adStates,
		campaigns: campaigns,
		attr:      attr,
		metrics:   metrics,
	}
}

// Handle processes one signal. Errors wrapping ErrInvalidSignal are permanent; anything
// else may succeed on redelivery.
func (h *Ingestor) Handle(ctx context.Context, sig Signal) error {
	err := h.handle(ctx, sig)
	status := "ok"
	switch {
	case errors.Is(err, ErrInvalidSignal):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	h.metrics.IncSignal(sig.Kind, status)
	return err
}

func (h *Ingestor) handle(ctx context.Context, sig Signal) error {
	switch sig.Kind {
	case KindPerformance:
		var p Performance
		if err := json.Unmarshal(sig.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode performance: %v", ErrInvalidSignal, err)
		}
		if p.TenantID == "" {
			p.TenantID = sig.TenantID
		}
		return h.applyPerformance(ctx, p)

	case KindClick:
		var c attribution.Click
		if err := json.Unmarshal(sig.Payload, &c); err != nil {
			return fmt.Errorf("%w: decode click: %v", ErrInvalidSignal, err)
		}
		if c.TenantID == "" {
			c.TenantID = sig.TenantID
		}
		if _, err := h.attr.RecordClick(ctx, c); err != nil {
			if errors.Is(err, attribution.ErrInvalidClick) {
				return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
			}
			return err
		}
		return nil

	case KindConversion:
		var c attribution.Conversion
		if err := json.Unmarshal(sig.Payload, &c); err != nil {
			return fmt.Errorf("%w: decode conversion: %v", ErrInvalidSignal, err)
		}
		if c.TenantID == "" {
			c.TenantID = sig.TenantID
		}
		res, err := h.attr.Attribute(ctx, c)
		if err != nil {
			if errors.Is(err, attribution.ErrInvalidConversion) {
				return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
			}
			return err
		}
		if !res.Attributed() && !res.Duplicate {
			h.log.Info("Conversion left unattributed", "conversion_id", res.ConversionID, "tenant_id", c.TenantID)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, sig.Kind)
}

func (h *Ingestor) applyPerformance(ctx context.Context, p Performance) error {
	if err := p.Validate(); err != nil {
		return err
	}
	snap := repos.Snapshot{
		TenantID:    p.TenantID,
		CampaignID:  p.CampaignID,
		AdID:        p.AdID,
		Spend:       p.Spend.Round(2),
		Impressions: p.Impressions,
		Clicks:      p.Clicks,
		ObservedAt:  p.ObservedAt,
	}
	if p.DailyBudget != nil {
		snap.DailyBudget = decimal.NewNullDecimal(p.DailyBudget.Round(2))
	}
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if p.CampaignDailyBudget != nil {
			if err := h.campaigns.Upsert(dbc, &types.Campaign{
				CampaignID:  p.CampaignID,
				TenantID:    p.TenantID,
				DailyBudget: p.CampaignDailyBudget.Round(2),
			}); err != nil {
				return fmt.Errorf("upsert campaign %s: %w", p.CampaignID, err)
			}
		}
		if _, err := h.adStates.ApplySnapshot(dbc, snap); err != nil {
			return fmt.Errorf("apply snapshot for ad %s: %w", p.AdID, err)
		}
		return nil
	})
}
