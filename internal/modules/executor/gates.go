package executor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	types "github.com/yungbote/adpilot-backend/internal/domain"
)

// GateError is a safety gate refusing a change. Gate rejections are final for the
// change; the next decision cycle proposes afresh.
type GateError struct {
	Gate   string
	Detail string
}

func (e *GateError) Error() string {
	if e == nil {
		return "gate rejected change"
	}
	return fmt.Sprintf("gate %s rejected change: %s", e.Gate, e.Detail)
}

// JitterDelay maps u in [0,1) onto [min, max].
func JitterDelay(change *types.PendingChange, u float64) time.Duration {
	lo := time.Duration(change.JitterMinMS) * time.Millisecond
	hi := time.Duration(change.JitterMaxMS) * time.Millisecond
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(u*float64(hi-lo))
}

// CheckRate rejects when the campaign already had cap completed changes in the window.
func CheckRate(completed int64, cap int) error {
	if cap > 0 && completed >= int64(cap) {
		return &GateError{Gate: types.GateRate, Detail: fmt.Sprintf("%d completed changes in the last hour, cap %d", completed, cap)}
	}
	return nil
}

// CheckVelocity rejects a budget change when the ad's cumulative budget movement in the
// window, this change included, would exceed fraction of the baseline. The baseline is
// the budget before the window's first completed change, or the change's own current
// value when the window is empty. Returns the baseline used; a zero baseline (an ad's
// first budget) is not limited.
func CheckVelocity(change *types.PendingChange, recent []*types.ChangeHistory, fraction float64) (decimal.Decimal, error) {
	baseline := change.CurrentValue
	if len(recent) > 0 {
		baseline = recent[0].CurrentValue
	}
	if !baseline.IsPositive() {
		return baseline, nil
	}
	moved := decimal.Zero
	for _, h := range recent {
		sent := h.RequestedValue
		if h.SentValue.Valid {
			sent = h.SentValue.Decimal
		}
		moved = moved.Add(sent.Sub(h.CurrentValue).Abs())
	}
	total := moved.Add(change.Delta())
	limit := baseline.Mul(decimal.NewFromFloat(fraction)).Round(2)
	if total.GreaterThan(limit) {
		return baseline, &GateError{
			Gate:   types.GateVelocity,
			Detail: fmt.Sprintf("budget moved %s in window (with this change), limit %s of baseline %s", total.StringFixed(2), limit.StringFixed(2), baseline.StringFixed(2)),
		}
	}
	return baseline, nil
}

// FuzzBudget perturbs target by a factor drawn uniformly from [1-fraction, 1+fraction]
// given u in [0,1), rounded to cents.
func FuzzBudget(target decimal.Decimal, fraction float64, u float64) (decimal.Decimal, error) {
	factor := 1 + fraction*(2*u-1)
	sent := target.Mul(decimal.NewFromFloat(factor)).Round(2)
	if sent.LessThan(decimal.NewFromFloat(0.01)) {
		return decimal.Zero, &GateError{Gate: types.GateFuzzy, Detail: fmt.Sprintf("fuzzed budget %s is not positive", sent.String())}
	}
	return sent, nil
}
