package memojob

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity timeouts. The heartbeat timeout is what lets Temporal notice a
// dead worker long before the job lease expires.
const (
	StartToCloseTimeout = 15 * time.Minute
	HeartbeatTimeout    = time.Minute
)

// Workflow runs the memo job whose id is the workflow id. Pipeline failures
// are recorded on the job row and end the workflow with an error; failures
// to start the run are retried by the activity retry policy.
func Workflow(ctx workflow.Context, jobID string) (RunResult, error) {
	if strings.TrimSpace(jobID) == "" {
		jobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	if strings.TrimSpace(jobID) == "" {
		return RunResult{}, fmt.Errorf("memojob: missing job id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: StartToCloseTimeout,
		HeartbeatTimeout:    HeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        2 * time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeJobNotFound},
		},
	})

	var out RunResult
	if err := workflow.ExecuteActivity(ctx, ActivityRun, jobID).Get(ctx, &out); err != nil {
		return out, err
	}
	if out.Failed {
		workflow.GetLogger(ctx).Warn("memo job failed", "job_id", jobID, "error", out.Error)
	}
	return out, nil
}
