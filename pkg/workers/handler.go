package workers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/queues"
)

// JobRunner runs one memo job by id.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) (*jobs.Result, error)
}

// JobHandler adapts a JobRunner to the queue. The job row records pipeline
// failures, so only failures to start the run are handed back for redelivery.
func JobHandler(runner JobRunner, logger logging.Logger) Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(ctx context.Context, msg queues.JobMessage) error {
		result, err := runner.Run(ctx, msg.JobID)
		switch {
		case err == nil:
			logger.Debug("job message handled",
				logging.F("job_id", msg.JobID.String()),
				logging.F("skipped", result.Skipped))
			return nil
		case dmerrors.IsInvalidState(err):
			// Another trigger owns it or it already finished.
			logger.Info("job not pending, dropping message",
				logging.F("job_id", msg.JobID.String()), logging.Err(err))
			return nil
		case dmerrors.IsNotFound(err):
			return fmt.Errorf("job %s: %w", msg.JobID, queues.ErrInvalidMessage)
		case dmerrors.CodeOf(err) != "":
			return nil
		default:
			return err
		}
	}
}
