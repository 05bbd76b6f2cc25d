package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

// AdSeed describes an ad_state row. Zero money fields are stored as zero.
type AdSeed struct {
	TenantID      string
	CampaignID    string
	AdID          string
	Status        string
	DailyBudget   float64
	Spend         float64
	Impressions   int64
	Clicks        int64
	PipelineValue float64
	CashRevenue   float64
	CreatedAt     time.Time
}

func SeedAdState(tb testing.TB, ctx context.Context, tx *gorm.DB, s AdSeed) *types.AdState {
	tb.Helper()
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC().Add(-72 * time.Hour)
	}
	status := s.Status
	if status == "" {
		status = types.AdStatusActive
	}
	st := &types.AdState{
		AdID:          s.AdID,
		TenantID:      s.TenantID,
		CampaignID:    s.CampaignID,
		Status:        status,
		DailyBudget:   decimal.NewFromFloat(s.DailyBudget),
		Spend:         decimal.NewFromFloat(s.Spend),
		Impressions:   s.Impressions,
		Clicks:        s.Clicks,
		PipelineValue: decimal.NewFromFloat(s.PipelineValue),
		CashRevenue:   decimal.NewFromFloat(s.CashRevenue),
		CreatedAt:     created.UTC(),
		LastUpdatedAt: created.UTC(),
	}
	if err := tx.WithContext(ctx).Create(st).Error; err != nil {
		tb.Fatalf("seed ad state: %v", err)
	}
	return st
}

func SeedCampaign(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, campaignID string, dailyBudget float64) *types.Campaign {
	tb.Helper()
	c := &types.Campaign{
		CampaignID:  campaignID,
		TenantID:    tenantID,
		DailyBudget: decimal.NewFromFloat(dailyBudget),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed campaign: %v", err)
	}
	return c
}

func SeedCreative(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, adID string, emb []float32, hook string) *types.Creative {
	tb.Helper()
	c := &types.Creative{
		AdID:      adID,
		TenantID:  tenantID,
		Embedding: pgvector.NewVector(emb),
		HookType:  hook,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed creative: %v", err)
	}
	return c
}

func Money(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func PtrTime(v time.Time) *time.Time { return &v }
