package memojob

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
)

type stubRunner struct {
	result *jobs.Result
	err    error
	calls  int
}

func (s *stubRunner) Run(ctx context.Context, id uuid.UUID) (*jobs.Result, error) {
	s.calls++
	return s.result, s.err
}

func runWorkflow(t *testing.T, runner *stubRunner, jobID string) (*testsuite.TestWorkflowEnvironment, RunResult) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	acts := &Activities{Runner: runner}
	env.RegisterActivityWithOptions(acts.Run, activity.RegisterOptions{Name: ActivityRun})
	env.ExecuteWorkflow(Workflow, jobID)
	require.True(t, env.IsWorkflowCompleted())

	var out RunResult
	if env.GetWorkflowError() == nil {
		require.NoError(t, env.GetWorkflowResult(&out))
	}
	return env, out
}

func TestWorkflow_Completes(t *testing.T) {
	memoID := uuid.New()
	runner := &stubRunner{result: &jobs.Result{MemoID: memoID}}
	jobID := uuid.NewString()

	env, out := runWorkflow(t, runner, jobID)
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, jobID, out.JobID)
	assert.Equal(t, memoID.String(), out.MemoID)
	assert.False(t, out.Failed)
	assert.Equal(t, 1, runner.calls)
}

func TestWorkflow_RecordedFailureEndsWithoutRetry(t *testing.T) {
	runner := &stubRunner{err: dmerrors.New(dmerrors.ErrCodeMissingCredential, "fetch", "Fireflies integration not connected", nil)}

	env, out := runWorkflow(t, runner, uuid.NewString())
	require.NoError(t, env.GetWorkflowError())
	assert.True(t, out.Failed)
	assert.Contains(t, out.Error, "Fireflies")
	assert.Equal(t, 1, runner.calls)
}

func TestWorkflow_UnknownJobIsNotRetried(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("claiming: %w", dmerrors.ErrNotFound)}

	env, _ := runWorkflow(t, runner, uuid.NewString())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeJobNotFound, appErr.Type())
	assert.Equal(t, 1, runner.calls)
}

func TestActivities_Run(t *testing.T) {
	tests := []struct {
		name       string
		jobID      string
		runner     *stubRunner
		wantSkip   bool
		wantFailed bool
		wantErr    bool
	}{
		{"skipped duplicate", uuid.NewString(), &stubRunner{result: &jobs.Result{MemoID: uuid.New(), Skipped: true}}, true, false, false},
		{"already owned", uuid.NewString(), &stubRunner{err: dmerrors.ErrInvalidState}, false, false, false},
		{"claim failed", uuid.NewString(), &stubRunner{err: errors.New("connection refused")}, false, false, true},
		{"bad id", "not-a-uuid", &stubRunner{}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var suite testsuite.WorkflowTestSuite
			env := suite.NewTestActivityEnvironment()
			acts := &Activities{Runner: tt.runner}
			env.RegisterActivity(acts.Run)

			val, err := env.ExecuteActivity(acts.Run, tt.jobID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var out RunResult
			require.NoError(t, val.Get(&out))
			assert.Equal(t, tt.wantSkip, out.Skipped)
			assert.Equal(t, tt.wantFailed, out.Failed)
		})
	}
}
