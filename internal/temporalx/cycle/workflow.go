package cycle

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultInterval      = 15 * time.Minute
	defaultCyclesPerRun  = 96
	continueHistoryLimit = 10000
)

// Workflow runs the feedback cycle forever: one activity per interval, continuing as new
// before history grows unbounded. A failed cycle is logged and the loop keeps going.
func Workflow(ctx workflow.Context, in Input) error {
	if in.Interval <= 0 {
		in.Interval = defaultInterval
	}
	if in.CyclesPerRun <= 0 {
		in.CyclesPerRun = defaultCyclesPerRun
	}
	log := workflow.GetLogger(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: in.Interval,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	runNow := workflow.GetSignalChannel(ctx, SignalRunNow)

	for ran := 0; ; ran++ {
		var out Result
		if err := workflow.ExecuteActivity(ctx, ActivityRunCycle).Get(ctx, &out); err != nil {
			log.Error("Feedback cycle failed", "error", err)
		} else {
			log.Info("Feedback cycle done",
				"cycle", in.Completed+ran+1,
				"evaluated", out.Evaluated,
				"kills", out.Kills,
				"budget_moves", out.BudgetMoves,
				"new_winners", out.NewWinners,
				"errors", len(out.Errors),
			)
		}

		if shouldContinueAsNew(ctx, ran+1, in.CyclesPerRun, continueHistoryLimit) {
			next := in
			next.Completed = in.Completed + ran + 1
			return workflow.NewContinueAsNewError(ctx, Workflow, next)
		}
		waitOrRunNow(ctx, runNow, in.Interval)
	}
}

func waitOrRunNow(ctx workflow.Context, ch workflow.ReceiveChannel, d time.Duration) {
	timerCtx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, nil)
	})
	sel.AddFuture(workflow.NewTimer(timerCtx, d), func(workflow.Future) {})
	sel.Select(ctx)
}

func shouldContinueAsNew(ctx workflow.Context, cycles, maxCycles, maxHistory int) bool {
	if maxCycles > 0 && cycles >= maxCycles {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
