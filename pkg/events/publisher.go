// Package events publishes memo job events to Redis pub/sub for live
// dashboards.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// Redis channels for memo job events.
const (
	ChannelMemoJobProgress  = "events.memo_job.progress"
	ChannelMemoJobCompleted = "events.memo_job.completed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "dealmemo",
		Version:   "1.0",
	}
}

// MemoJobEvent is published at every checkpoint and when a job finishes.
type MemoJobEvent struct {
	BaseEvent

	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	Step     string `json:"current_step,omitempty"`
	Progress int    `json:"progress"`
	MemoID   string `json:"memo_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// redisPublisher is the part of a Redis client the publisher uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher publishes memo job events to Redis. It implements
// jobs.ProgressPublisher.
type Publisher struct {
	client redisPublisher
	logger logging.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(client redis.UniversalClient, logger logging.Logger) *Publisher {
	return newPublisher(client, logger)
}

func newPublisher(client redisPublisher, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// PublishProgress publishes a progress update. Terminal statuses go to the
// completed channel as well, so listeners that only care about outcomes can
// subscribe to one channel.
func (p *Publisher) PublishProgress(ctx context.Context, e jobs.ProgressEvent) error {
	event := MemoJobEvent{
		BaseEvent: NewBaseEvent("memo_job.progress"),
		JobID:     e.JobID.String(),
		UserID:    e.UserID.String(),
		Status:    string(e.Status),
		Step:      e.Step,
		Progress:  e.Progress,
		MemoID:    e.MemoID,
		Error:     e.Error,
	}
	if err := p.publish(ctx, ChannelMemoJobProgress, event); err != nil {
		return err
	}
	if !e.Status.Terminal() {
		return nil
	}
	event.EventType = "memo_job.completed"
	return p.publish(ctx, ChannelMemoJobCompleted, event)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}
