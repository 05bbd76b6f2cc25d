package scoring

import (
	"math"
	"strings"
	"time"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

const (
	IgnoranceAND = "and"
	IgnoranceOR  = "or"
)

// Config carries every tunable the scorer reads. Zero fields fall back to DefaultConfig,
// except the ignorance zone floors where zero turns that floor off.
type Config struct {
	// CTRReference and ROASReference map raw signals onto [0,1]; values at or above saturate.
	CTRReference  float64
	ROASReference float64
	// Tau is the time constant of the exponential approach inside each CTR weight band.
	Tau time.Duration

	IgnoranceMode       string
	IgnoranceAge        time.Duration
	IgnoranceSpendFloor float64

	KillThreshold  float64
	ScaleThreshold float64

	// MinBudget is the per-ad floor enforced after softmax normalization.
	MinBudget float64
	// Temperature divides sampled values before softmax; smaller is greedier.
	Temperature float64
}

func DefaultConfig() Config {
	return Config{
		CTRReference:        0.05,
		ROASReference:       5.0,
		Tau:                 2 * time.Hour,
		IgnoranceMode:       IgnoranceAND,
		IgnoranceAge:        72 * time.Hour,
		IgnoranceSpendFloor: 100,
		KillThreshold:       0.5,
		ScaleThreshold:      3.0,
		MinBudget:           5,
		Temperature:         0.2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CTRReference <= 0 {
		c.CTRReference = d.CTRReference
	}
	if c.ROASReference <= 0 {
		c.ROASReference = d.ROASReference
	}
	if c.Tau <= 0 {
		c.Tau = d.Tau
	}
	mode := strings.ToLower(strings.TrimSpace(c.IgnoranceMode))
	if mode != IgnoranceOR {
		mode = IgnoranceAND
	}
	c.IgnoranceMode = mode
	if c.IgnoranceAge < 0 {
		c.IgnoranceAge = d.IgnoranceAge
	}
	if c.IgnoranceSpendFloor < 0 {
		c.IgnoranceSpendFloor = d.IgnoranceSpendFloor
	}
	if c.KillThreshold <= 0 {
		c.KillThreshold = d.KillThreshold
	}
	if c.ScaleThreshold <= 0 {
		c.ScaleThreshold = d.ScaleThreshold
	}
	if c.MinBudget < 0 {
		c.MinBudget = d.MinBudget
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	return c
}

// roasEpsilon stands in for zero spend so ROAS stays finite.
const roasEpsilon = 0.01

type band struct {
	start  time.Duration
	target float64
}

// Weight bands after the first. Inside each, the weight decays exponentially from the
// value it had at the band start towards target, so the curve is continuous everywhere.
var bands = []band{
	{start: 6 * time.Hour, target: 0.7},
	{start: 24 * time.Hour, target: 0.3},
	{start: 72 * time.Hour, target: 0.0},
}

// CTRWeight is the share of the blended score taken by normalized CTR at the given age.
func CTRWeight(age time.Duration, tau time.Duration) float64 {
	if tau <= 0 {
		tau = DefaultConfig().Tau
	}
	if age < bands[0].start {
		return 1.0
	}
	w := 1.0
	for i, b := range bands {
		end := time.Duration(math.MaxInt64)
		if i+1 < len(bands) {
			end = bands[i+1].start
		}
		if age < end {
			return approach(w, b.target, age-b.start, tau)
		}
		w = approach(w, b.target, end-b.start, tau)
	}
	return w
}

func approach(from, target float64, elapsed, tau time.Duration) float64 {
	return target + (from-target)*math.Exp(-float64(elapsed)/float64(tau))
}

func Age(ad *types.AdState, now time.Time) time.Duration {
	if ad == nil || ad.CreatedAt.IsZero() {
		return 0
	}
	age := now.Sub(ad.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

func CTR(ad *types.AdState) float64 {
	if ad == nil {
		return 0
	}
	imps := ad.Impressions
	if imps < 1 {
		imps = 1
	}
	return float64(ad.Clicks) / float64(imps)
}

// PipelineROAS is (pipeline + cash) / spend.
func PipelineROAS(ad *types.AdState) float64 {
	if ad == nil {
		return 0
	}
	spend := ad.Spend.InexactFloat64()
	if spend < roasEpsilon {
		spend = roasEpsilon
	}
	return ad.Revenue().InexactFloat64() / spend
}

func normalize(v, ref float64) float64 {
	if v <= 0 || ref <= 0 {
		return 0
	}
	return math.Min(v/ref, 1)
}

// Score returns the blended preference in [0,1]. It is pure.
func Score(ad *types.AdState, now time.Time, cfg Config) float64 {
	if ad == nil {
		return 0
	}
	cfg = cfg.withDefaults()
	w := CTRWeight(Age(ad, now), cfg.Tau)
	ctrNorm := normalize(CTR(ad), cfg.CTRReference)
	roasNorm := normalize(PipelineROAS(ad), cfg.ROASReference)
	return clamp01(w*ctrNorm + (1-w)*roasNorm)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
