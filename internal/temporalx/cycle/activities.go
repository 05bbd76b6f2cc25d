package cycle

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/yungbote/adpilot-backend/internal/modules/orchestrator"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type Activities struct {
	Log    *logger.Logger
	Cycler orchestrator.Cycler
	// HeartbeatEvery defaults to 10s.
	HeartbeatEvery time.Duration
}

func (a *Activities) RunCycle(ctx context.Context) (Result, error) {
	if a == nil || a.Cycler == nil {
		return Result{}, errors.New("cycle: activity not configured")
	}
	stop := a.startHeartbeat(ctx)
	defer stop()

	rep, err := a.Cycler.RunCycle(ctx)
	out := Result{
		Campaigns:   rep.Campaigns,
		Evaluated:   rep.Evaluated,
		Protected:   rep.Protected,
		Kills:       rep.Kills,
		BudgetMoves: rep.BudgetMoves,
		InFlight:    rep.InFlight,
		NewWinners:  rep.NewWinners,
		Errors:      rep.Errors,
	}
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("Feedback cycle activity failed", "error", err, "attempt", activity.GetInfo(ctx).Attempt)
		}
		return out, err
	}
	return out, nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
