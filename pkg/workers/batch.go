package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// PendingClaimer claims pending jobs in creation order.
type PendingClaimer interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]jobs.Job, error)
}

// ClaimedRunner runs a job the caller already claimed.
type ClaimedRunner interface {
	RunClaimed(ctx context.Context, job *jobs.Job) (*jobs.Result, error)
}

// StaleRecovery resets jobs whose lease expired. *jobs.Reaper satisfies it.
type StaleRecovery interface {
	RunOnce(ctx context.Context) (*jobs.RecoveryReport, error)
}

// BatchReport is the outcome of one Batch.Process call.
type BatchReport struct {
	RecoveredStale int `json:"recoveredStale"`
	Processed      int `json:"processed"`
	Failed         int `json:"failed"`
}

// Batch processes pending jobs on demand, for schedulers that call the
// worker endpoint instead of running a queue consumer.
type Batch struct {
	claimer  PendingClaimer
	runner   ClaimedRunner
	recovery StaleRecovery
	lease    time.Duration
	logger   logging.Logger
}

// NewBatch creates a Batch. recovery may be nil.
func NewBatch(claimer PendingClaimer, runner ClaimedRunner, recovery StaleRecovery, lease time.Duration, logger logging.Logger) *Batch {
	if lease <= 0 {
		lease = jobs.DefaultLease
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Batch{
		claimer:  claimer,
		runner:   runner,
		recovery: recovery,
		lease:    lease,
		logger:   logger.With(logging.F("component", "batch")),
	}
}

// Process recovers stale jobs, then claims up to limit pending jobs and runs
// them concurrently. limit is clamped to 1..MaxConcurrency. Job failures are
// recorded on the jobs and counted, not returned.
func (b *Batch) Process(ctx context.Context, limit int) (*BatchReport, error) {
	report := &BatchReport{}
	if b.recovery != nil {
		rec, err := b.recovery.RunOnce(ctx)
		if err != nil {
			b.logger.Warn("stale job recovery failed", logging.Err(err))
		} else {
			report.RecoveredStale = len(rec.Reset)
		}
	}

	claimed, err := b.claimer.ClaimPending(ctx, ClampConcurrency(limit), b.lease)
	if err != nil {
		return report, fmt.Errorf("claiming pending jobs: %w", err)
	}

	var failed atomic.Int64
	var g errgroup.Group
	for i := range claimed {
		job := &claimed[i]
		g.Go(func() error {
			if _, err := b.runner.RunClaimed(ctx, job); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Processed = len(claimed)
	report.Failed = int(failed.Load())
	if report.Processed > 0 || report.RecoveredStale > 0 {
		b.logger.Info("batch processed",
			logging.F("recovered_stale", report.RecoveredStale),
			logging.F("processed", report.Processed),
			logging.F("failed", report.Failed))
	}
	return report, nil
}
