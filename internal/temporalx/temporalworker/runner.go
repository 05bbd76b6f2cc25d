package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/adpilot-backend/internal/modules/orchestrator"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
	"github.com/yungbote/adpilot-backend/internal/temporalx"
	"github.com/yungbote/adpilot-backend/internal/temporalx/cycle"
)

// Runner hosts the feedback-cycle workflow and activity on the configured task queue and
// keeps the singleton workflow running.
type Runner struct {
	log    *logger.Logger
	tc     temporalsdkclient.Client
	cfg    temporalx.Config
	cycler orchestrator.Cycler
}

func NewRunner(baseLog *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, cycler orchestrator.Cycler) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if cycler == nil {
		return nil, fmt.Errorf("temporal worker missing cycler")
	}
	return &Runner{
		log:    baseLog.With("component", "TemporalCycleRunner"),
		tc:     tc,
		cfg:    cfg,
		cycler: cycler,
	}, nil
}

// Run starts the worker, makes sure the cycle workflow exists, and blocks until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	w, err := r.start(ctx)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := r.EnsureWorkflow(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.log.Info("Temporal worker stopping", "task_queue", r.cfg.TaskQueue)
	return nil
}

func (r *Runner) start(ctx context.Context) (worker.Worker, error) {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)
	deadline := time.Now().Add(r.cfg.DialMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return w, nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		isNotFound := errors.As(startErr, &nfe)
		if isNotFound && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if r.cfg.DialMaxWait <= 0 || time.Now().After(deadline) {
			if isNotFound {
				return nil, fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return nil, startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)

		t := time.NewTimer(temporalx.ClampBackoff(r.cfg.DialBackoff, r.cfg.DialBackoffMax, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		// One cycle at a time; cycles are not designed to overlap.
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 2,
	})
	acts := &cycle.Activities{Log: r.log, Cycler: r.cycler}
	w.RegisterWorkflowWithOptions(cycle.Workflow, workflow.RegisterOptions{Name: cycle.WorkflowName})
	w.RegisterActivityWithOptions(acts.RunCycle, activity.RegisterOptions{Name: cycle.ActivityRunCycle})
	return w
}

// EnsureWorkflow starts the singleton cycle workflow, leaving a running one untouched.
func (r *Runner) EnsureWorkflow(ctx context.Context) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                       r.cfg.WorkflowID,
		TaskQueue:                r.cfg.TaskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	in := cycle.Input{Interval: r.cfg.CycleInterval, CyclesPerRun: r.cfg.CyclesPerRun}
	run, err := r.tc.ExecuteWorkflow(ctx, opts, cycle.WorkflowName, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			r.log.Info("Feedback cycle workflow already running", "workflow_id", r.cfg.WorkflowID)
			return nil
		}
		return fmt.Errorf("start feedback cycle workflow: %w", err)
	}
	r.log.Info("Feedback cycle workflow running", "workflow_id", run.GetID(), "run_id", run.GetRunID(), "interval", r.cfg.CycleInterval.String())
	return nil
}

// TriggerNow asks the running workflow to start a cycle without waiting for the interval.
func (r *Runner) TriggerNow(ctx context.Context) error {
	return r.tc.SignalWorkflow(ctx, r.cfg.WorkflowID, "", cycle.SignalRunNow, nil)
}
