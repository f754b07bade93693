// Package queues provides the Redis job queue used as an async dispatch
// backend. Messages carry job references only; the memo_jobs row stays the
// source of truth for status and progress.
package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority levels for queue messages.
type Priority int

const (
	PriorityLow    Priority = 0 // Reaper re-dispatch
	PriorityNormal Priority = 1 // Manual and pull ingests
	PriorityHigh   Priority = 2 // Webhook pushes
)

// DefaultQueueName is the queue memo jobs are published on.
const DefaultQueueName = "memo:jobs"

// JobMessage asks a worker to run one memo job.
type JobMessage struct {
	JobID      uuid.UUID `json:"job_id"`
	UserID     uuid.UUID `json:"user_id"`
	Source     string    `json:"source"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Validate checks that the message names a job.
func (m JobMessage) Validate() error {
	if m.JobID == uuid.Nil {
		return fmt.Errorf("job_id is required: %w", ErrInvalidMessage)
	}
	if m.Priority < PriorityLow || m.Priority > PriorityHigh {
		return fmt.Errorf("priority %d out of range: %w", m.Priority, ErrInvalidMessage)
	}
	return nil
}

// QueuedMessage wraps a message with queue metadata.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
}

// ParseMessage decodes and validates the wrapped job message.
func (qm *QueuedMessage) ParseMessage() (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(qm.Message, &msg); err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", qm.ID, ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Queue is a job message queue with at-least-once delivery.
type Queue interface {
	Name() string

	Enqueue(ctx context.Context, msg JobMessage) error
	EnqueueBatch(ctx context.Context, msgs []JobMessage) error

	// Dequeue returns up to maxMessages, waiting at most timeout for the first.
	Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error)

	Ack(ctx context.Context, messageID string) error
	// Nack schedules a redelivery with backoff, or dead-letters the message
	// once it has used its retries.
	Nack(ctx context.Context, messageID string) error
	MoveToDeadLetter(ctx context.Context, messageID, reason string) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// Config configures queue behavior.
type Config struct {
	Name string `yaml:"name"`
	// VisibilityTimeout must outlast a pipeline run; messages still in
	// processing after it are redelivered by RecoverStaleMessages.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
	Retry             RetryPolicy   `yaml:"retry"`
}

// DefaultConfig returns the memo job queue configuration.
func DefaultConfig() Config {
	return Config{
		Name:              DefaultQueueName,
		VisibilityTimeout: 15 * time.Minute,
		RetentionPeriod:   24 * time.Hour,
		Retry:             DefaultRetryPolicy(),
	}
}
