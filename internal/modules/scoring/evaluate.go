package scoring

import (
	"fmt"
	"time"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

type Verdict string

const (
	VerdictProtect  Verdict = "protect"
	VerdictKill     Verdict = "kill"
	VerdictScale    Verdict = "scale"
	VerdictMaintain Verdict = "maintain"
)

type Decision struct {
	Verdict Verdict
	Reason  string
	Age     time.Duration
	ROAS    float64
	Blended float64
}

// Protected reports whether the ad is still inside its ignorance zone.
// AND: protected while young and under the spend floor; clearing either ends protection.
// OR: protected while young or under the spend floor; both must clear.
func Protected(ad *types.AdState, now time.Time, cfg Config) bool {
	cfg = cfg.withDefaults()
	young := Age(ad, now) < cfg.IgnoranceAge
	lowSpend := ad.Spend.InexactFloat64() < cfg.IgnoranceSpendFloor
	if cfg.IgnoranceMode == IgnoranceOR {
		return young || lowSpend
	}
	return young && lowSpend
}

// Evaluate classifies one ad as protect, kill, scale or maintain. It is pure.
func Evaluate(ad *types.AdState, now time.Time, cfg Config) Decision {
	cfg = cfg.withDefaults()
	d := Decision{
		Age:     Age(ad, now),
		Blended: Score(ad, now, cfg),
	}
	if ad == nil {
		d.Verdict = VerdictMaintain
		d.Reason = "no state"
		return d
	}
	if Protected(ad, now, cfg) {
		d.Verdict = VerdictProtect
		d.Reason = fmt.Sprintf("ignorance zone (%s): age=%s spend=%s", cfg.IgnoranceMode, d.Age.Round(time.Minute), ad.Spend.StringFixed(2))
		return d
	}
	if !ad.Spend.IsPositive() {
		d.Verdict = VerdictMaintain
		d.Reason = "no spend to judge"
		return d
	}
	d.ROAS = PipelineROAS(ad)
	switch {
	case d.ROAS < cfg.KillThreshold:
		d.Verdict = VerdictKill
		d.Reason = fmt.Sprintf("pipeline roas %.3f below kill threshold %.2f", d.ROAS, cfg.KillThreshold)
	case d.ROAS > cfg.ScaleThreshold:
		d.Verdict = VerdictScale
		d.Reason = fmt.Sprintf("pipeline roas %.3f above scale threshold %.2f", d.ROAS, cfg.ScaleThreshold)
	default:
		d.Verdict = VerdictMaintain
		d.Reason = fmt.Sprintf("pipeline roas %.3f within thresholds", d.ROAS)
	}
	return d
}
