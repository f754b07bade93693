package temporalx

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/temporalx/memojob"
)

// WorkflowStarter is the part of client.Client the backend uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Backend dispatches jobs by starting one workflow per job.
type Backend struct {
	starter   WorkflowStarter
	taskQueue string
}

// NewBackend creates a Backend on taskQueue.
func NewBackend(starter WorkflowStarter, taskQueue string) *Backend {
	return &Backend{starter: starter, taskQueue: taskQueue}
}

func (b *Backend) Name() string { return "temporal" }

// Publish starts the job's workflow. The workflow id is the job id, so a
// second publish for the same job is rejected and counts as success.
func (b *Backend) Publish(ctx context.Context, job *jobs.Job) error {
	if job.ID == uuid.Nil {
		return errors.New("missing job id")
	}
	opts := client.StartWorkflowOptions{
		ID:                    job.ID.String(),
		TaskQueue:             b.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	_, err := b.starter.ExecuteWorkflow(ctx, opts, memojob.WorkflowName, job.ID.String())
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if err == nil || errors.As(err, &already) {
		return nil
	}
	return fmt.Errorf("starting workflow for job %s: %w", job.ID, err)
}
