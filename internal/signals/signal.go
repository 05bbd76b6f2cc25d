package signals

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	KindPerformance = "performance"
	KindClick       = "click"
	KindConversion  = "conversion"
)

// ErrInvalidSignal marks a signal that can never be processed. Buses acknowledge and
// drop these instead of redelivering them.
var ErrInvalidSignal = errors.New("invalid signal")

// Signal is the envelope carried by the bus. Payload is the kind-specific JSON body.
type Signal struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	TenantID    string          `json:"tenant_id"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

func New(kind, tenantID string, payload any) (Signal, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Signal{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Signal{
		ID:          uuid.NewString(),
		Kind:        kind,
		TenantID:    tenantID,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Performance is a cumulative reading for one ad as reported by the ad platform.
type Performance struct {
	TenantID            string           `json:"tenant_id"`
	CampaignID          string           `json:"campaign_id"`
	AdID                string           `json:"ad_id"`
	Spend               decimal.Decimal  `json:"spend"`
	Impressions         int64            `json:"impressions"`
	Clicks              int64            `json:"clicks"`
	DailyBudget         *decimal.Decimal `json:"daily_budget,omitempty"`
	CampaignDailyBudget *decimal.Decimal `json:"campaign_daily_budget,omitempty"`
	ObservedAt          time.Time        `json:"observed_at"`
}

func (p Performance) Validate() error {
	switch {
	case p.TenantID == "":
		return fmt.Errorf("%w: tenant_id required", ErrInvalidSignal)
	case p.CampaignID == "":
		return fmt.Errorf("%w: campaign_id required", ErrInvalidSignal)
	case p.AdID == "":
		return fmt.Errorf("%w: ad_id required", ErrInvalidSignal)
	case p.Spend.IsNegative():
		return fmt.Errorf("%w: spend must not be negative", ErrInvalidSignal)
	case p.Impressions < 0 || p.Clicks < 0:
		return fmt.Errorf("%w: counters must not be negative", ErrInvalidSignal)
	case p.DailyBudget != nil && p.DailyBudget.IsNegative():
		return fmt.Errorf("%w: daily_budget must not be negative", ErrInvalidSignal)
	case p.CampaignDailyBudget != nil && p.CampaignDailyBudget.IsNegative():
		return fmt.Errorf("%w: campaign_daily_budget must not be negative", ErrInvalidSignal)
	}
	return nil
}
