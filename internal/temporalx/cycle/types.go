package cycle

import "time"

const (
	WorkflowName     = "feedback_cycle"
	ActivityRunCycle = "feedback_cycle_run"
	// SignalRunNow cuts the current sleep short and runs a cycle immediately.
	SignalRunNow = "feedback_cycle_run_now"
)

type Input struct {
	Interval     time.Duration `json:"interval"`
	CyclesPerRun int           `json:"cycles_per_run"`
	// Completed carries the cycle count across continue-as-new for logging.
	Completed int `json:"completed,omitempty"`
}

type Result struct {
	Campaigns   int      `json:"campaigns"`
	Evaluated   int      `json:"evaluated"`
	Protected   int      `json:"protected"`
	Kills       int      `json:"kills"`
	BudgetMoves int      `json:"budget_moves"`
	InFlight    int      `json:"in_flight"`
	NewWinners  int      `json:"new_winners"`
	Errors      []string `json:"errors,omitempty"`
}
