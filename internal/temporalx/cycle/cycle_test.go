package cycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/adpilot-backend/internal/modules/orchestrator"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

type fakeCycler struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCycler) RunCycle(context.Context) (orchestrator.Report, error) {
	f.calls.Add(1)
	if f.err != nil {
		return orchestrator.Report{}, f.err
	}
	return orchestrator.Report{Campaigns: 2, Evaluated: 5, Kills: 1, Errors: []string{"c2: boom"}}, nil
}

func newEnv(t *testing.T, c orchestrator.Cycler) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	acts := &Activities{Log: logger.NewNop(), Cycler: c}
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.RunCycle, activity.RegisterOptions{Name: ActivityRunCycle})
	return env
}

func TestWorkflow_ContinuesAsNewAfterCyclesPerRun(t *testing.T) {
	c := &fakeCycler{}
	env := newEnv(t, c)

	env.ExecuteWorkflow(WorkflowName, Input{Interval: time.Minute, CyclesPerRun: 3})

	require.True(t, env.IsWorkflowCompleted())
	var can *workflow.ContinueAsNewError
	require.True(t, errors.As(env.GetWorkflowError(), &can), "got %v", env.GetWorkflowError())
	assert.EqualValues(t, 3, c.calls.Load())
}

func TestWorkflow_FailedCycleDoesNotStopLoop(t *testing.T) {
	c := &fakeCycler{err: errors.New("db down")}
	env := newEnv(t, c)

	env.ExecuteWorkflow(WorkflowName, Input{Interval: time.Minute, CyclesPerRun: 2})

	require.True(t, env.IsWorkflowCompleted())
	var can *workflow.ContinueAsNewError
	require.True(t, errors.As(env.GetWorkflowError(), &can))
	assert.EqualValues(t, 6, c.calls.Load(), "two cycles, three attempts each")
}

func TestWorkflow_RunNowSignalSkipsTheWait(t *testing.T) {
	c := &fakeCycler{}
	env := newEnv(t, c)
	start := env.Now()
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalRunNow, nil)
	}, time.Minute)

	env.ExecuteWorkflow(WorkflowName, Input{Interval: 24 * time.Hour, CyclesPerRun: 2})

	require.True(t, env.IsWorkflowCompleted())
	assert.EqualValues(t, 2, c.calls.Load())
	assert.Less(t, env.Now().Sub(start), time.Hour)
}

func TestActivities_RunCycleMapsReport(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	acts := &Activities{Log: logger.NewNop(), Cycler: &fakeCycler{}}
	env.RegisterActivity(acts.RunCycle)

	val, err := env.ExecuteActivity(acts.RunCycle)
	require.NoError(t, err)
	var out Result
	require.NoError(t, val.Get(&out))
	assert.Equal(t, 2, out.Campaigns)
	assert.Equal(t, 5, out.Evaluated)
	assert.Equal(t, 1, out.Kills)
	assert.Equal(t, []string{"c2: boom"}, out.Errors)
}

func TestActivities_NotConfigured(t *testing.T) {
	var a *Activities
	_, err := a.RunCycle(context.Background())
	assert.Error(t, err)
}
