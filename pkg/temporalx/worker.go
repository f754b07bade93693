package temporalx

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/temporalx/memojob"
)

// Worker polls the memo task queue and runs memo job workflows.
type Worker struct {
	client      client.Client
	cfg         Config
	runner      memojob.JobRunner
	concurrency int
	logger      logging.Logger

	w worker.Worker
}

// NewWorker creates a Worker. concurrency bounds concurrent activities, the
// same bound the queue pool uses.
func NewWorker(c client.Client, cfg Config, runner memojob.JobRunner, concurrency int, logger logging.Logger) (*Worker, error) {
	if c == nil {
		return nil, errors.New("temporal client is not configured")
	}
	if runner == nil {
		return nil, errors.New("temporal worker needs a job runner")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		client:      c,
		cfg:         cfg,
		runner:      runner,
		concurrency: concurrency,
		logger:      logger.With(logging.F("component", "temporal_worker")),
	}, nil
}

// Start registers the workflow and activity and begins polling. The worker
// stops when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.w = worker.New(w.client, w.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     w.concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: w.concurrency,
	})
	acts := &memojob.Activities{Runner: w.runner, Logger: w.logger}
	w.w.RegisterWorkflowWithOptions(memojob.Workflow, workflow.RegisterOptions{Name: memojob.WorkflowName})
	w.w.RegisterActivityWithOptions(acts.Run, activity.RegisterOptions{Name: memojob.ActivityRun})

	if err := w.w.Start(); err != nil {
		return fmt.Errorf("starting temporal worker (namespace=%s task_queue=%s): %w", w.cfg.Namespace, w.cfg.TaskQueue, err)
	}
	w.logger.Info("temporal worker started",
		logging.F("namespace", w.cfg.Namespace),
		logging.F("task_queue", w.cfg.TaskQueue),
		logging.F("concurrency", w.concurrency))

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop stops polling and waits for running activities.
func (w *Worker) Stop() {
	if w.w != nil {
		w.w.Stop()
	}
}
