package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

// fixedSampler returns the Beta mean so allocation is deterministic.
type fixedSampler struct{}

func (fixedSampler) Beta(a, b float64) float64 { return a / (a + b) }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ad(id string, spend float64, imps, clicks int64, pipeline float64) *types.AdState {
	return &types.AdState{
		AdID:          id,
		Spend:         decimal.NewFromFloat(spend),
		Impressions:   imps,
		Clicks:        clicks,
		PipelineValue: decimal.NewFromFloat(pipeline),
		CreatedAt:     t0,
	}
}

func TestCTRWeight_ContinuousAtBandBoundaries(t *testing.T) {
	tau := 2 * time.Hour
	const eps = 1e-6
	for _, boundary := range []time.Duration{6 * time.Hour, 24 * time.Hour, 72 * time.Hour} {
		before := CTRWeight(boundary-time.Nanosecond, tau)
		after := CTRWeight(boundary, tau)
		assert.InDeltaf(t, before, after, eps, "jump at %s: %v -> %v", boundary, before, after)
	}

	prev := 1.0
	for age := time.Duration(0); age < 200*time.Hour; age += 15 * time.Minute {
		w := CTRWeight(age, tau)
		require.LessOrEqualf(t, w, prev+1e-12, "weight increased at %s", age)
		prev = w
	}

	assert.Equal(t, 1.0, CTRWeight(5*time.Hour, tau))
	assert.InDelta(t, 0.7, CTRWeight(23*time.Hour, tau), 0.01)
	assert.InDelta(t, 0.3, CTRWeight(71*time.Hour, tau), 0.01)
	assert.InDelta(t, 0.0, CTRWeight(100*time.Hour, tau), 0.01)
}

func TestScore_ContinuityAcrossAges(t *testing.T) {
	a := ad("a", 50, 2000, 40, 120)
	cfg := DefaultConfig()
	for _, boundary := range []time.Duration{6 * time.Hour, 24 * time.Hour, 72 * time.Hour} {
		before := Score(a, t0.Add(boundary-time.Millisecond), cfg)
		after := Score(a, t0.Add(boundary), cfg)
		assert.InDeltaf(t, before, after, 1e-6, "score jump at %s", boundary)
	}
}

func TestScore_Bounds(t *testing.T) {
	cfg := DefaultConfig()
	huge := ad("h", 1, 10, 10, 1e6)
	assert.Equal(t, 1.0, Score(huge, t0.Add(200*time.Hour), cfg))
	zero := ad("z", 0, 0, 0, 0)
	assert.Equal(t, 0.0, Score(zero, t0, cfg))
}

func TestScenarioA_YoungAdIsProtectedAndCTRWeighted(t *testing.T) {
	cfg := DefaultConfig()
	a := ad("scenario-a", 0, 1000, 40, 0)
	now := t0.Add(time.Hour)

	assert.Equal(t, 1.0, CTRWeight(Age(a, now), cfg.Tau))
	// ctr 0.04 against reference 0.05.
	assert.InDelta(t, 0.8, Score(a, now, cfg), 1e-9)

	d := Evaluate(a, now, cfg)
	assert.Equal(t, VerdictProtect, d.Verdict)
}

func TestScenarioB_MatureLosingAdIsKilled(t *testing.T) {
	cfg := DefaultConfig()
	b := ad("scenario-b", 220, 10000, 120, 100)
	d := Evaluate(b, t0.Add(96*time.Hour), cfg)
	assert.Equal(t, VerdictKill, d.Verdict)
	assert.InDelta(t, 100.0/220.0, d.ROAS, 1e-9)
}

func TestEvaluate_ScaleAndMaintain(t *testing.T) {
	cfg := DefaultConfig()
	now := t0.Add(100 * time.Hour)
	assert.Equal(t, VerdictScale, Evaluate(ad("s", 200, 1000, 10, 800), now, cfg).Verdict)
	assert.Equal(t, VerdictMaintain, Evaluate(ad("m", 200, 1000, 10, 300), now, cfg).Verdict)
	assert.Equal(t, VerdictMaintain, Evaluate(ad("m", 200, 1000, 10, 100), now, cfg).Verdict, "ratio exactly 0.5 is not a kill")
}

func TestIgnoranceZoneBoundary_AND(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnoranceMode = IgnoranceAND
	age := cfg.IgnoranceAge
	floor := cfg.IgnoranceSpendFloor

	cases := []struct {
		name      string
		age       time.Duration
		spend     float64
		protected bool
	}{
		{"young and under floor", age - time.Second, floor - 0.01, true},
		{"age reaches boundary", age, floor - 0.01, false},
		{"spend reaches floor", age - time.Second, floor, false},
		{"both cleared", age + time.Hour, floor + 50, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := ad("z", tc.spend, 1000, 5, 0)
			now := t0.Add(tc.age)
			assert.Equal(t, tc.protected, Protected(a, now, cfg))
			d := Evaluate(a, now, cfg)
			if tc.protected {
				assert.Equal(t, VerdictProtect, d.Verdict)
			} else {
				assert.Equal(t, VerdictKill, d.Verdict, "zero revenue kills once eligible")
			}
		})
	}
}

func TestIgnoranceZoneBoundary_OR(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnoranceMode = IgnoranceOR
	age := cfg.IgnoranceAge
	floor := cfg.IgnoranceSpendFloor

	cases := []struct {
		name      string
		age       time.Duration
		spend     float64
		protected bool
	}{
		{"young and under floor", age - time.Second, floor - 0.01, true},
		{"only age cleared", age, floor - 0.01, true},
		{"only spend cleared", age - time.Second, floor, true},
		{"both cleared at boundary", age, floor, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := ad("z", tc.spend, 1000, 5, 0)
			now := t0.Add(tc.age)
			assert.Equal(t, tc.protected, Protected(a, now, cfg))
			d := Evaluate(a, now, cfg)
			if tc.protected {
				assert.Equal(t, VerdictProtect, d.Verdict)
			} else {
				assert.Equal(t, VerdictKill, d.Verdict)
			}
		})
	}
}

func TestIgnoranceZone_ZeroAgeDisablesAgeProtection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnoranceAge = 0
	young := ad("z", 50, 1000, 5, 0)
	now := t0.Add(time.Hour)

	assert.False(t, Protected(young, now, cfg), "AND needs both floors and the age floor is off")
	assert.Equal(t, VerdictKill, Evaluate(young, now, cfg).Verdict)

	cfg.IgnoranceMode = IgnoranceOR
	assert.True(t, Protected(young, now, cfg), "spend floor still protects under OR")

	cfg.IgnoranceAge = -time.Hour
	cfg.IgnoranceMode = IgnoranceAND
	assert.True(t, Protected(young, now, cfg), "negative age falls back to the default")
}

func TestSample_UsesImpressionWeightedBeta(t *testing.T) {
	var gotA, gotB float64
	s := samplerFunc(func(a, b float64) float64 { gotA, gotB = a, b; return 0.5 })
	_, err := Sample(ad("x", 0, 1000, 0, 0), 0.25, s)
	require.NoError(t, err)
	assert.InDelta(t, 251, gotA, 1e-9)
	assert.InDelta(t, 751, gotB, 1e-9)

	_, err = Sample(ad("x", 0, 10, 0, 0), 1.5, s)
	require.ErrorIs(t, err, ErrInvalidBlendScore)
}

func TestSample_RealBetaStaysInUnitInterval(t *testing.T) {
	a := ad("x", 0, 500, 0, 0)
	for i := 0; i < 200; i++ {
		v, err := Sample(a, 0.3, BetaSampler{})
		require.NoError(t, err)
		require.True(t, v >= 0 && v <= 1)
	}
}

type samplerFunc func(a, b float64) float64

func (f samplerFunc) Beta(a, b float64) float64 { return f(a, b) }

func TestAllocate_FloorAndExactTotal(t *testing.T) {
	cfg := DefaultConfig()
	cands := []Candidate{
		{Ad: ad("a", 0, 5000, 0, 0), Blended: 0.9},
		{Ad: ad("b", 0, 5000, 0, 0), Blended: 0.1},
		{Ad: ad("c", 0, 5000, 0, 0), Blended: 0.05},
	}
	total := decimal.NewFromInt(100)
	out, err := Allocate(cands, total, cfg, fixedSampler{})
	require.NoError(t, err)
	require.Len(t, out, 3)

	sum := decimal.Zero
	byAd := map[string]Allocation{}
	for _, a := range out {
		sum = sum.Add(a.Budget)
		byAd[a.AdID] = a
		assert.True(t, a.Budget.GreaterThanOrEqual(decimal.NewFromInt(5)), "floor violated for %s: %s", a.AdID, a.Budget)
		assert.Equal(t, a.Budget.StringFixed(2), a.Budget.Round(2).StringFixed(2))
	}
	assert.True(t, sum.Equal(total), "sum=%s", sum)
	assert.True(t, byAd["a"].Budget.GreaterThan(byAd["b"].Budget))
	assert.True(t, byAd["b"].Budget.GreaterThanOrEqual(byAd["c"].Budget))

	weights := 0.0
	for _, a := range out {
		weights += a.Weight
	}
	assert.InDelta(t, 1.0, weights, 1e-9)
}

func TestAllocate_Errors(t *testing.T) {
	cfg := DefaultConfig()
	_, err := Allocate(nil, decimal.NewFromInt(10), cfg, fixedSampler{})
	require.ErrorIs(t, err, ErrNoAds)

	cands := []Candidate{{Ad: ad("a", 0, 1, 0, 0), Blended: 0.5}, {Ad: ad("b", 0, 1, 0, 0), Blended: 0.5}}
	_, err = Allocate(cands, decimal.NewFromInt(9), cfg, fixedSampler{})
	require.ErrorIs(t, err, ErrBudgetBelowFloor)

	out, err := Allocate(cands, decimal.NewFromInt(10), cfg, fixedSampler{})
	require.NoError(t, err)
	for _, a := range out {
		assert.True(t, a.Budget.Equal(decimal.NewFromInt(5)))
	}
	assert.False(t, math.IsNaN(out[0].Weight))
}
