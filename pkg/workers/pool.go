// Package workers runs memo jobs off the Redis job queue with a bounded pool
// and processes pending batches for the /process/worker trigger.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
	"github.com/otherjamesbrown/dealmemo/pkg/queues"
)

// Concurrency bounds.
const (
	DefaultConcurrency = 3
	MaxConcurrency     = 5
)

// ClampConcurrency maps a configured value into 1..MaxConcurrency; zero or
// negative means the default.
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// Handler processes one job message. A nil return acks the message.
type Handler func(ctx context.Context, msg queues.JobMessage) error

// Config configures a Pool.
type Config struct {
	Concurrency int `yaml:"concurrency"`
	// PollInterval is how long one Dequeue call waits for a message.
	PollInterval time.Duration `yaml:"poll_interval"`
	// JobTimeout bounds one handler call. Keep it under the queue's
	// visibility timeout.
	JobTimeout      time.Duration      `yaml:"job_timeout"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`
	MaintainEvery   time.Duration      `yaml:"maintain_every"`
	Retry           queues.RetryPolicy `yaml:"retry"`
}

// DefaultConfig returns the worker pool defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency,
		PollInterval:    2 * time.Second,
		JobTimeout:      12 * time.Minute,
		ShutdownTimeout: 60 * time.Second,
		MaintainEvery:   time.Minute,
		Retry:           queues.DefaultRetryPolicy(),
	}
}

// Worker is one consumer goroutine.
type Worker struct {
	ID     string
	config Config
	queue  queues.Queue
	handle Handler
	logger logging.Logger

	status       atomic.Value
	lastActivity atomic.Int64

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64
}

func newWorker(config Config, queue queues.Queue, handler Handler, logger logging.Logger) *Worker {
	id := uuid.New().String()
	w := &Worker{
		ID:     id,
		config: config,
		queue:  queue,
		handle: handler,
		logger: logger.With(logging.F("worker_id", id)),
	}
	w.status.Store(WorkerStatusStarting)
	return w
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	return w.status.Load().(WorkerStatus)
}

// LastActivity is when the worker last picked up a message.
func (w *Worker) LastActivity() time.Time {
	ns := w.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (w *Worker) processLoop(ctx context.Context) {
	w.status.Store(WorkerStatusHealthy)
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := w.queue.Dequeue(ctx, 1, w.config.PollInterval)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queues.ErrQueueClosed) {
				return
			}
			w.logger.Warn("dequeue failed", logging.Err(err))
			select {
			case <-time.After(w.config.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, qm := range messages {
			w.processMessage(ctx, qm)
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, qm *queues.QueuedMessage) {
	w.lastActivity.Store(time.Now().UnixNano())
	// Acks and nacks must land even while the pool drains.
	settle := context.WithoutCancel(ctx)

	msg, err := qm.ParseMessage()
	if err != nil {
		w.logger.Error("dropping unreadable message", logging.F("message_id", qm.ID), logging.Err(err))
		if dlqErr := w.queue.MoveToDeadLetter(settle, qm.ID, fmt.Sprintf("parse error: %v", err)); dlqErr != nil {
			w.logger.Error("dead-lettering message failed", logging.Err(dlqErr))
		}
		w.FailedCount.Add(1)
		return
	}
	logger := w.logger.With(logging.F("job_id", msg.JobID.String()), logging.F("message_id", qm.ID))

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	err = w.handle(jobCtx, *msg)
	cancel()

	if err == nil {
		if ackErr := w.queue.Ack(settle, qm.ID); ackErr != nil {
			logger.Error("ack failed", logging.Err(ackErr))
		}
		w.ProcessedCount.Add(1)
		return
	}

	w.FailedCount.Add(1)
	decision := w.config.Retry.DecideRetry(err, qm.RetryCount)
	if decision.ShouldRetry {
		logger.Warn("job message will be redelivered",
			logging.F("retry_count", qm.RetryCount),
			logging.F("reason", decision.Reason),
			logging.Err(err))
		if nackErr := w.queue.Nack(settle, qm.ID); nackErr != nil {
			logger.Error("nack failed", logging.Err(nackErr))
		}
		return
	}
	logger.Error("job message dead-lettered", logging.F("reason", decision.Reason), logging.Err(err))
	if dlqErr := w.queue.MoveToDeadLetter(settle, qm.ID, decision.Reason+": "+err.Error()); dlqErr != nil {
		logger.Error("dead-lettering message failed", logging.Err(dlqErr))
	}
}

// staleRecoverer is implemented by queues that track in-flight messages.
type staleRecoverer interface {
	RecoverStaleMessages(ctx context.Context) (int, error)
}

// Pool manages a fixed set of workers on one queue.
type Pool struct {
	config  Config
	queue   queues.Queue
	handler Handler
	metrics *observability.Metrics
	logger  logging.Logger

	mu      sync.RWMutex
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a worker pool. Concurrency is clamped to 1..MaxConcurrency.
func NewPool(config Config, queue queues.Queue, handler Handler, metrics *observability.Metrics, logger logging.Logger) *Pool {
	defaults := DefaultConfig()
	config.Concurrency = ClampConcurrency(config.Concurrency)
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.MaintainEvery <= 0 {
		config.MaintainEvery = defaults.MaintainEvery
	}
	if config.Retry.MaxRetries <= 0 {
		config.Retry = defaults.Retry
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pool{
		config:  config,
		queue:   queue,
		handler: handler,
		metrics: metrics,
		logger:  logger.With(logging.F("component", "worker_pool"), logging.F("queue", queue.Name())),
	}
}

// Start launches the workers and the maintenance loop. They run until ctx
// is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Concurrency; i++ {
		w := newWorker(p.config, p.queue, p.handler, p.logger)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer w.status.Store(WorkerStatusStopped)
			w.processLoop(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.maintain(ctx)
	}()
	p.logger.Info("worker pool started", logging.F("concurrency", p.config.Concurrency))
}

// maintain redelivers messages orphaned by dead workers and publishes the
// queue depth.
func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.config.MaintainEvery)
	defer ticker.Stop()
	for {
		p.MaintainOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// MaintainOnce runs one maintenance pass.
func (p *Pool) MaintainOnce(ctx context.Context) {
	if r, ok := p.queue.(staleRecoverer); ok {
		n, err := r.RecoverStaleMessages(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("recovering stale messages failed", logging.Err(err))
		}
		if n > 0 {
			p.logger.Info("redelivered stale messages", logging.F("count", n))
		}
	}
	stats, err := p.queue.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("reading queue stats failed", logging.Err(err))
		}
		return
	}
	p.metrics.SetQueueDepth(stats.Ready + stats.Delayed)
}

// Stop drains the pool, waiting up to ShutdownTimeout for in-flight jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	for _, w := range p.workers {
		w.status.Store(WorkerStatusDraining)
	}
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{Queue: p.queue.Name(), WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
		if at := w.LastActivity(); at.After(stats.LastActivity) {
			stats.LastActivity = at
		}
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Queue        string
	WorkerCount  int
	ActiveCount  int
	Processed    int64
	Failed       int64
	LastActivity time.Time // latest pickup across all workers
}
