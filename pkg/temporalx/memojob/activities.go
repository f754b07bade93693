package memojob

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// ErrTypeJobNotFound is the application error type for unknown job ids.
const ErrTypeJobNotFound = "JobNotFound"

const heartbeatEvery = 10 * time.Second

// JobRunner runs one memo job by id.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) (*jobs.Result, error)
}

// Activities holds the activity dependencies.
type Activities struct {
	Runner JobRunner
	Logger logging.Logger
}

// Run executes the pipeline for jobID. A job another trigger already owns
// counts as done.
func (a *Activities) Run(ctx context.Context, jobID string) (RunResult, error) {
	res := RunResult{JobID: jobID}
	id, err := uuid.Parse(jobID)
	if err != nil || id == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError(fmt.Sprintf("invalid job id %q", jobID), ErrTypeJobNotFound, err)
	}

	stop := startHeartbeat(ctx)
	defer stop()

	result, err := a.Runner.Run(ctx, id)
	switch {
	case err == nil:
		res.MemoID = result.MemoID.String()
		res.Skipped = result.Skipped
		return res, nil
	case dmerrors.IsInvalidState(err):
		a.logger().Info("job not pending, nothing to run", logging.F("job_id", jobID), logging.Err(err))
		return res, nil
	case dmerrors.IsNotFound(err):
		return res, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeJobNotFound, err)
	case dmerrors.CodeOf(err) != "":
		res.Failed = true
		res.Error = err.Error()
		return res, nil
	default:
		return res, err
	}
}

func (a *Activities) logger() logging.Logger {
	if a.Logger == nil {
		return logging.NewNopLogger()
	}
	return a.Logger
}

// startHeartbeat records activity heartbeats until the returned func is called.
func startHeartbeat(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
