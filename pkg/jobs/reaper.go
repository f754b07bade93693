package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
)

// StaleRecoverer resets jobs whose lease has expired.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, maxAttempts int) (*RecoveryReport, error)
}

// RedispatchFunc hands reset jobs back to the dispatcher.
type RedispatchFunc func(ctx context.Context, ids []uuid.UUID)

// DefaultMaxAttempts is how many runs a job gets before the reaper fails it.
const DefaultMaxAttempts = 3

// Reaper recovers jobs stuck in processing after their worker died.
type Reaper struct {
	store       StaleRecoverer
	maxAttempts int
	redispatch  RedispatchFunc
	metrics     *observability.Metrics
	logger      logging.Logger
}

// NewReaper creates a Reaper. redispatch and metrics may be nil.
func NewReaper(store StaleRecoverer, maxAttempts int, redispatch RedispatchFunc, metrics *observability.Metrics, logger logging.Logger) *Reaper {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reaper{
		store:       store,
		maxAttempts: maxAttempts,
		redispatch:  redispatch,
		metrics:     metrics,
		logger:      logger.With(logging.F("component", "reaper")),
	}
}

// RunOnce performs one recovery pass.
func (r *Reaper) RunOnce(ctx context.Context) (*RecoveryReport, error) {
	report, err := r.store.RecoverStale(ctx, r.maxAttempts)
	if err != nil {
		return nil, err
	}

	r.metrics.RecordRecovery("reset", len(report.Reset))
	r.metrics.RecordRecovery("failed", len(report.Failed))
	for _, id := range report.Failed {
		r.logger.Warn("job exhausted its attempts", logging.F("job_id", id.String()))
	}
	if len(report.Reset) > 0 {
		r.logger.Info("reset stale jobs", logging.F("count", len(report.Reset)))
		if r.redispatch != nil {
			r.redispatch(ctx, report.Reset)
		}
	}
	return report, nil
}

// Schedule registers the reaper on c with a cron spec such as "@every 2m".
func (r *Reaper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("reaper pass failed", logging.Err(err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("scheduling reaper %q: %w", spec, err)
	}
	return id, nil
}
