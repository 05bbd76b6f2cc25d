package revenue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

var (
	ErrUnknownStage  = errors.New("unknown pipeline stage")
	ErrInvalidStages = errors.New("invalid stage values")
)

// StageSetting is one stage's monetary value and how much that value is trusted.
type StageSetting struct {
	Value      decimal.Decimal
	Confidence float64
}

func DefaultStages() map[string]StageSetting {
	return map[string]StageSetting{
		types.StageLead:        {Value: decimal.NewFromInt(25), Confidence: 0.3},
		types.StageQualified:   {Value: decimal.NewFromInt(150), Confidence: 0.5},
		types.StageProposal:    {Value: decimal.NewFromInt(600), Confidence: 0.6},
		types.StageNegotiation: {Value: decimal.NewFromInt(1200), Confidence: 0.75},
		types.StageWon:         {Value: decimal.NewFromInt(3000), Confidence: 1.0},
		types.StageLost:        {Value: decimal.Zero, Confidence: 1.0},
	}
}

type Calculator struct {
	log   *logger.Logger
	repo  repos.StageValueRepo
	cache *expirable.LRU[string, map[string]StageSetting]
}

func NewCalculator(baseLog *logger.Logger, repo repos.StageValueRepo, ttl time.Duration, size int) *Calculator {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if size <= 0 {
		size = 1024
	}
	return &Calculator{
		log:   baseLog.With("service", "SyntheticRevenueCalculator"),
		repo:  repo,
		cache: expirable.NewLRU[string, map[string]StageSetting](size, nil, ttl),
	}
}

// Stages returns the tenant's stage table: defaults overlaid with stored rows.
func (c *Calculator) Stages(ctx context.Context, tenantID string) (map[string]StageSetting, error) {
	if s, ok := c.cache.Get(tenantID); ok {
		return s, nil
	}
	stages := DefaultStages()
	if c.repo != nil && tenantID != "" {
		rows, err := c.repo.ListByTenant(dbctx.Background(ctx), tenantID)
		if err != nil {
			return nil, fmt.Errorf("load stage values: %w", err)
		}
		for _, r := range rows {
			stages[normalizeStage(r.Stage)] = StageSetting{Value: r.Value, Confidence: r.Confidence}
		}
	}
	c.cache.Add(tenantID, stages)
	return stages, nil
}

// StageChangeValue is the synthetic revenue earned by moving a deal from one stage to
// another: to_value - from_value. When the deal is won and its actual value is known,
// that value replaces the configured won value and the result is fully trusted.
// An empty from stage means the deal is new.
func (c *Calculator) StageChangeValue(ctx context.Context, tenantID, fromStage, toStage string, dealValue *decimal.Decimal) (decimal.Decimal, float64, error) {
	stages, err := c.Stages(ctx, tenantID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	from := decimal.Zero
	if f := normalizeStage(fromStage); f != "" {
		fs, ok := stages[f]
		if !ok {
			return decimal.Zero, 0, fmt.Errorf("%w: %q", ErrUnknownStage, fromStage)
		}
		from = fs.Value
	}
	to := normalizeStage(toStage)
	ts, ok := stages[to]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("%w: %q", ErrUnknownStage, toStage)
	}
	if to == types.StageWon && dealValue != nil && !dealValue.IsNegative() {
		return dealValue.Sub(from).Round(2), 1.0, nil
	}
	return ts.Value.Sub(from).Round(2), ts.Confidence, nil
}

// SetStages stores a tenant's stage table and invalidates the cached copy.
func (c *Calculator) SetStages(ctx context.Context, tenantID string, stages map[string]StageSetting) error {
	if tenantID == "" || len(stages) == 0 {
		return ErrInvalidStages
	}
	rows := make([]*types.StageValue, 0, len(stages))
	now := time.Now().UTC()
	for name, s := range stages {
		name = normalizeStage(name)
		if name == "" || s.Value.IsNegative() || s.Confidence < 0 || s.Confidence > 1 {
			return fmt.Errorf("%w: stage %q", ErrInvalidStages, name)
		}
		rows = append(rows, &types.StageValue{
			TenantID: tenantID, Stage: name, Value: s.Value, Confidence: s.Confidence,
			CreatedAt: now, UpdatedAt: now,
		})
	}
	if err := c.repo.Upsert(dbctx.Background(ctx), rows); err != nil {
		return err
	}
	c.cache.Remove(tenantID)
	return nil
}

func normalizeStage(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
