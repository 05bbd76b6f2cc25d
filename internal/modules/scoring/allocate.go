package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

var (
	ErrNoAds             = errors.New("no ads to allocate")
	ErrBudgetBelowFloor  = errors.New("total budget below per-ad floor")
	ErrNegativeBudget    = errors.New("total budget is negative")
	ErrInvalidBlendScore = errors.New("blended score outside [0,1]")
)

// Sampler draws from Beta(alpha, beta).
type Sampler interface {
	Beta(alpha, beta float64) float64
}

// BetaSampler draws with gonum's Beta distribution.
type BetaSampler struct{}

func (BetaSampler) Beta(alpha, beta float64) float64 {
	return distuv.Beta{Alpha: alpha, Beta: beta}.Rand()
}

// Sample is one Thompson draw for ad. Exploration narrows as impressions accumulate.
func Sample(ad *types.AdState, blended float64, sampler Sampler) (float64, error) {
	if blended < 0 || blended > 1 || math.IsNaN(blended) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBlendScore, blended)
	}
	if sampler == nil {
		sampler = BetaSampler{}
	}
	n := 0.0
	if ad != nil && ad.Impressions > 0 {
		n = float64(ad.Impressions)
	}
	return sampler.Beta(n*blended+1, n*(1-blended)+1), nil
}

// Candidate is an ad entering allocation with its blended score.
type Candidate struct {
	Ad      *types.AdState
	Blended float64
}

// Allocation is the budget assigned to one ad.
type Allocation struct {
	AdID    string
	Sampled float64
	Weight  float64
	Budget  decimal.Decimal
}

// Allocate splits total across candidates: every ad first receives the floor, and the
// remainder follows a softmax over the Thompson samples. Budgets are rounded to cents and
// sum exactly to total.
func Allocate(cands []Candidate, total decimal.Decimal, cfg Config, sampler Sampler) ([]Allocation, error) {
	if len(cands) == 0 {
		return nil, ErrNoAds
	}
	if total.IsNegative() {
		return nil, ErrNegativeBudget
	}
	cfg = cfg.withDefaults()

	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ad.AdID < sorted[j].Ad.AdID })

	floor := decimal.NewFromFloat(cfg.MinBudget).Round(2)
	n := decimal.NewFromInt(int64(len(sorted)))
	reserved := floor.Mul(n)
	if total.LessThan(reserved) {
		return nil, fmt.Errorf("%w: total=%s floor=%s ads=%d", ErrBudgetBelowFloor, total.StringFixed(2), floor.StringFixed(2), len(sorted))
	}
	remainder := total.Sub(reserved)

	out := make([]Allocation, len(sorted))
	maxScaled := math.Inf(-1)
	for i, c := range sorted {
		s, err := Sample(c.Ad, c.Blended, sampler)
		if err != nil {
			return nil, fmt.Errorf("ad %s: %w", c.Ad.AdID, err)
		}
		out[i] = Allocation{AdID: c.Ad.AdID, Sampled: s}
		if v := s / cfg.Temperature; v > maxScaled {
			maxScaled = v
		}
	}
	sum := 0.0
	for i := range out {
		out[i].Weight = math.Exp(out[i].Sampled/cfg.Temperature - maxScaled)
		sum += out[i].Weight
	}

	assigned := decimal.Zero
	best := 0
	for i := range out {
		out[i].Weight /= sum
		share := remainder.Mul(decimal.NewFromFloat(out[i].Weight)).RoundFloor(2)
		out[i].Budget = floor.Add(share)
		assigned = assigned.Add(out[i].Budget)
		if out[i].Weight > out[best].Weight {
			best = i
		}
	}
	out[best].Budget = out[best].Budget.Add(total.Sub(assigned))
	return out, nil
}
