package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// ProgressStore is the part of Store the Reporter writes through.
type ProgressStore interface {
	UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int, lease time.Duration) error
	Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error
	Complete(ctx context.Context, id uuid.UUID, result Result) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
}

// ProgressEvent is broadcast after every checkpoint and at finalization.
type ProgressEvent struct {
	JobID    uuid.UUID `json:"jobId"`
	UserID   uuid.UUID `json:"userId"`
	Status   Status    `json:"status"`
	Step     string    `json:"currentStep"`
	Progress int       `json:"progress"`
	MemoID   string    `json:"memoId,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ProgressPublisher fans progress out to live listeners.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event ProgressEvent) error
}

// DefaultLease is how long a claim stays valid without a checkpoint or heartbeat.
const DefaultLease = 10 * time.Minute

// Reporter records the progress of a single run. Progress is monotonic:
// a checkpoint lower than the last one recorded keeps the higher value.
type Reporter struct {
	store     ProgressStore
	publisher ProgressPublisher
	logger    logging.Logger
	jobID     uuid.UUID
	userID    uuid.UUID
	lease     time.Duration

	mu       sync.Mutex
	progress int
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

func WithPublisher(p ProgressPublisher) ReporterOption {
	return func(r *Reporter) { r.publisher = p }
}

func WithReporterLogger(l logging.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = l }
}

func WithLease(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.lease = d
		}
	}
}

// NewReporter creates a Reporter for job, starting from its stored progress.
func NewReporter(store ProgressStore, job *Job, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		store:    store,
		logger:   logging.NewNopLogger(),
		jobID:    job.ID,
		userID:   job.UserID,
		lease:    DefaultLease,
		progress: job.Progress,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Progress returns the highest checkpoint recorded so far.
func (r *Reporter) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Step records a checkpoint and extends the lease. A failed write is logged;
// progress reporting never fails a run.
func (r *Reporter) Step(ctx context.Context, step Step) {
	r.mu.Lock()
	if step.Progress() > r.progress {
		r.progress = step.Progress()
	}
	progress := r.progress
	r.mu.Unlock()

	if err := r.store.UpdateProgress(ctx, r.jobID, step.String(), progress, r.lease); err != nil {
		r.logger.Warn("failed to record progress", logging.F("step", step.String()), logging.Err(err))
	}
	r.publish(ctx, ProgressEvent{Status: StatusProcessing, Step: step.String(), Progress: progress})
}

// StartHeartbeat extends the lease every lease/3 until the returned stop
// function is called or ctx ends.
func (r *Reporter) StartHeartbeat(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	interval := r.lease / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.Heartbeat(ctx, r.jobID, r.lease); err != nil && ctx.Err() == nil {
					r.logger.Warn("heartbeat failed", logging.Err(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Complete finalizes the run as completed.
func (r *Reporter) Complete(ctx context.Context, result Result) error {
	if err := r.store.Complete(ctx, r.jobID, result); err != nil {
		return err
	}
	r.mu.Lock()
	r.progress = StepDone.Progress()
	r.mu.Unlock()
	r.publish(ctx, ProgressEvent{
		Status:   StatusCompleted,
		Step:     StepDone.String(),
		Progress: StepDone.Progress(),
		MemoID:   result.MemoID.String(),
	})
	return nil
}

// Fail finalizes the run as failed with message.
func (r *Reporter) Fail(ctx context.Context, message string) error {
	if err := r.store.Fail(ctx, r.jobID, message); err != nil {
		return err
	}
	r.publish(ctx, ProgressEvent{Status: StatusFailed, Progress: r.Progress(), Error: message})
	return nil
}

func (r *Reporter) publish(ctx context.Context, event ProgressEvent) {
	if r.publisher == nil {
		return
	}
	event.JobID = r.jobID
	event.UserID = r.userID
	if err := r.publisher.PublishProgress(ctx, event); err != nil {
		r.logger.Debug("progress event not published", logging.Err(err))
	}
}
