// Package dispatch hands newly created memo jobs to an execution backend,
// falling back to the direct-processing trigger when no backend is
// configured or the backend rejects the publish.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
)

// Dispatch modes reported by Dispatch.
const (
	ModeDirect = "direct"
	ModeNone   = "none"
)

// Backend is an asynchronous execution backend.
type Backend interface {
	Name() string
	Publish(ctx context.Context, job *jobs.Job) error
}

// Trigger runs a job through the direct-processing endpoint.
type Trigger interface {
	Trigger(ctx context.Context, jobID uuid.UUID) (*DirectResponse, error)
}

// JobGetter loads jobs for re-dispatch.
type JobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}

// Dispatcher routes jobs to the backend or the direct trigger. It never
// fails the caller: a job that cannot be handed off stays pending for the
// reaper, /process/worker or /process/retry.
type Dispatcher struct {
	backend Backend
	direct  Trigger
	jobs    JobGetter
	metrics *observability.Metrics
	logger  logging.Logger

	// directTimeout bounds one background direct trigger.
	directTimeout time.Duration
	inflight      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackend sets the async backend. A nil backend means direct only.
func WithBackend(b Backend) Option {
	return func(d *Dispatcher) { d.backend = b }
}

// WithDirectTrigger sets the fallback trigger.
func WithDirectTrigger(t Trigger) Option {
	return func(d *Dispatcher) { d.direct = t }
}

// WithJobGetter enables Redispatch.
func WithJobGetter(g JobGetter) Option {
	return func(d *Dispatcher) { d.jobs = g }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDirectTimeout bounds each background direct trigger.
func WithDirectTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.directTimeout = t
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:        logging.Global(),
		directTimeout: 20 * time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logging.F("component", "dispatch"))
	return d
}

// Dispatch hands job off and returns the mode used. It does not block on
// the job's execution.
func (d *Dispatcher) Dispatch(ctx context.Context, job *jobs.Job) string {
	logger := d.logger.With(logging.F("job_id", job.ID.String()))

	if d.backend != nil {
		err := d.backend.Publish(ctx, job)
		if err == nil {
			d.metrics.RecordDispatch(d.backend.Name(), "published")
			logger.Debug("job published", logging.F("backend", d.backend.Name()))
			return d.backend.Name()
		}
		d.metrics.RecordDispatch(d.backend.Name(), "error")
		logger.Warn("publishing job failed, falling back to direct trigger",
			logging.F("backend", d.backend.Name()), logging.Err(err))
	}

	if d.direct == nil {
		d.metrics.RecordDispatch(ModeNone, "skipped")
		logger.Warn("no dispatch path configured; job stays pending")
		return ModeNone
	}

	d.fire(ctx, job.ID, logger)
	return ModeDirect
}

func (d *Dispatcher) fire(ctx context.Context, jobID uuid.UUID, logger logging.Logger) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		// The trigger outlives the ingest request.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.directTimeout)
		defer cancel()

		resp, err := d.direct.Trigger(tctx, jobID)
		switch {
		case err != nil:
			d.metrics.RecordDispatch(ModeDirect, "error")
			logger.Error("direct trigger failed; job stays pending", logging.Err(err))
		case !resp.Success:
			d.metrics.RecordDispatch(ModeDirect, "job_failed")
			logger.Warn("direct run reported failure", logging.F("error", resp.Error))
		default:
			d.metrics.RecordDispatch(ModeDirect, "completed")
		}
	}()
}

// Redispatch re-dispatches jobs by id. It matches jobs.RedispatchFunc.
func (d *Dispatcher) Redispatch(ctx context.Context, ids []uuid.UUID) {
	if d.jobs == nil {
		return
	}
	for _, id := range ids {
		job, err := d.jobs.Get(ctx, id)
		if err != nil {
			d.logger.Warn("loading job for redispatch failed", logging.F("job_id", id.String()), logging.Err(err))
			continue
		}
		if job.Status != jobs.StatusPending {
			continue
		}
		d.Dispatch(ctx, job)
	}
}

// Wait blocks until background direct triggers finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
