package tenantconfig

import (
	"time"

	"github.com/yungbote/adpilot-backend/internal/modules/scoring"
)

// Settings are the per-tenant thresholds. Every field has a documented default;
// overrides only need to name the fields they change.
type Settings struct {
	// Scoring
	CTRReference  float64 `yaml:"ctr_reference" json:"ctr_reference"`
	ROASReference float64 `yaml:"roas_reference" json:"roas_reference"`
	WeightTauMin  float64 `yaml:"weight_tau_minutes" json:"weight_tau_minutes"`

	// Ignorance zone
	IgnoranceMode       string  `yaml:"ignorance_mode" json:"ignorance_mode"`
	IgnoranceDays       float64 `yaml:"ignorance_days" json:"ignorance_days"`
	IgnoranceSpendFloor float64 `yaml:"ignorance_spend_floor" json:"ignorance_spend_floor"`

	KillThreshold  float64 `yaml:"kill_threshold" json:"kill_threshold"`
	ScaleThreshold float64 `yaml:"scale_threshold" json:"scale_threshold"`

	// Allocation
	MinBudget          float64 `yaml:"min_budget" json:"min_budget"`
	MinBudgetDelta     float64 `yaml:"min_budget_delta" json:"min_budget_delta"`
	SoftmaxTemperature float64 `yaml:"softmax_temperature" json:"softmax_temperature"`

	// Execution gates
	JitterMinSeconds float64 `yaml:"jitter_min_seconds" json:"jitter_min_seconds"`
	JitterMaxSeconds float64 `yaml:"jitter_max_seconds" json:"jitter_max_seconds"`
	RateCapPerHour   int     `yaml:"rate_cap_per_hour" json:"rate_cap_per_hour"`
	VelocityFraction float64 `yaml:"velocity_fraction" json:"velocity_fraction"`
	FuzzFraction     float64 `yaml:"fuzz_fraction" json:"fuzz_fraction"`

	// Winners
	WinnerROAS           float64 `yaml:"winner_roas" json:"winner_roas"`
	WinnerCTR            float64 `yaml:"winner_ctr" json:"winner_ctr"`
	WinnerMinImpressions int64   `yaml:"winner_min_impressions" json:"winner_min_impressions"`
}

func Defaults() Settings {
	return Settings{
		CTRReference:  0.05,
		ROASReference: 5.0,
		WeightTauMin:  120,

		IgnoranceMode:       scoring.IgnoranceAND,
		IgnoranceDays:       3,
		IgnoranceSpendFloor: 100,

		KillThreshold:  0.5,
		ScaleThreshold: 3.0,

		MinBudget:          5,
		MinBudgetDelta:     1,
		SoftmaxTemperature: 0.2,

		JitterMinSeconds: 3,
		JitterMaxSeconds: 18,
		RateCapPerHour:   15,
		VelocityFraction: 0.20,
		FuzzFraction:     0.03,

		WinnerROAS:           3.0,
		WinnerCTR:            0.03,
		WinnerMinImpressions: 100,
	}
}

func (s Settings) Scoring() scoring.Config {
	return scoring.Config{
		CTRReference:        s.CTRReference,
		ROASReference:       s.ROASReference,
		Tau:                 time.Duration(s.WeightTauMin * float64(time.Minute)),
		IgnoranceMode:       s.IgnoranceMode,
		IgnoranceAge:        time.Duration(s.IgnoranceDays * 24 * float64(time.Hour)),
		IgnoranceSpendFloor: s.IgnoranceSpendFloor,
		KillThreshold:       s.KillThreshold,
		ScaleThreshold:      s.ScaleThreshold,
		MinBudget:           s.MinBudget,
		Temperature:         s.SoftmaxTemperature,
	}
}

func (s Settings) JitterWindow() (time.Duration, time.Duration) {
	lo := time.Duration(s.JitterMinSeconds * float64(time.Second))
	hi := time.Duration(s.JitterMaxSeconds * float64(time.Second))
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// sanitize replaces out-of-range values with defaults so a bad override cannot disable a gate.
func (s Settings) sanitize() Settings {
	d := Defaults()
	if s.CTRReference <= 0 {
		s.CTRReference = d.CTRReference
	}
	if s.ROASReference <= 0 {
		s.ROASReference = d.ROASReference
	}
	if s.WeightTauMin <= 0 {
		s.WeightTauMin = d.WeightTauMin
	}
	if s.IgnoranceMode != scoring.IgnoranceAND && s.IgnoranceMode != scoring.IgnoranceOR {
		s.IgnoranceMode = d.IgnoranceMode
	}
	if s.IgnoranceDays < 0 {
		s.IgnoranceDays = d.IgnoranceDays
	}
	if s.IgnoranceSpendFloor < 0 {
		s.IgnoranceSpendFloor = d.IgnoranceSpendFloor
	}
	if s.KillThreshold <= 0 {
		s.KillThreshold = d.KillThreshold
	}
	if s.ScaleThreshold <= s.KillThreshold {
		s.ScaleThreshold = d.ScaleThreshold
	}
	if s.MinBudget < 0 {
		s.MinBudget = d.MinBudget
	}
	if s.MinBudgetDelta < 0 {
		s.MinBudgetDelta = d.MinBudgetDelta
	}
	if s.SoftmaxTemperature <= 0 {
		s.SoftmaxTemperature = d.SoftmaxTemperature
	}
	if s.JitterMinSeconds < 0 || s.JitterMaxSeconds < s.JitterMinSeconds {
		s.JitterMinSeconds, s.JitterMaxSeconds = d.JitterMinSeconds, d.JitterMaxSeconds
	}
	if s.RateCapPerHour <= 0 {
		s.RateCapPerHour = d.RateCapPerHour
	}
	if s.VelocityFraction <= 0 || s.VelocityFraction > 1 {
		s.VelocityFraction = d.VelocityFraction
	}
	if s.FuzzFraction < 0 || s.FuzzFraction > 0.5 {
		s.FuzzFraction = d.FuzzFraction
	}
	if s.WinnerROAS <= 0 {
		s.WinnerROAS = d.WinnerROAS
	}
	if s.WinnerCTR <= 0 {
		s.WinnerCTR = d.WinnerCTR
	}
	if s.WinnerMinImpressions < 0 {
		s.WinnerMinImpressions = d.WinnerMinImpressions
	}
	return s
}
