package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"      // Ready messages (sorted set by priority, then age)
	keyPrefixDelayed    = "delayed:"    // Nacked messages waiting out their backoff
	keyPrefixProcessing = "processing:" // Messages being processed, scored by visibility deadline
	keyPrefixMessage    = "msg:"        // Message data
	keyPrefixDLQ        = "dlq:"        // Dead letter queue
)

// priorityStride separates priority bands in the ready set score. Within a
// band older messages score higher, so ZPOPMAX yields FIFO order.
const priorityStride = 1e13

// pollInterval is how long Dequeue sleeps when the queue is empty.
const pollInterval = 100 * time.Millisecond

// RedisQueue implements Queue on Redis sorted sets.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
	config Config
	closed atomic.Bool
	now    func() time.Time
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client redis.UniversalClient, config Config) *RedisQueue {
	if config.Name == "" {
		config.Name = DefaultQueueName
	}
	if config.Retry.MaxRetries <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	return &RedisQueue{
		client: client,
		name:   config.Name,
		config: config,
		now:    time.Now,
	}
}

func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.name }
func (q *RedisQueue) delayedKey() string    { return keyPrefixDelayed + q.name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.name }
func (q *RedisQueue) messageKey(id string) string {
	return keyPrefixMessage + q.name + ":" + id
}

// readyScore orders the ready set: priority first, then oldest first.
func readyScore(p Priority, enqueuedAt time.Time) float64 {
	return float64(p)*priorityStride - float64(enqueuedAt.UnixMilli())
}

// Enqueue adds a message to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, msg JobMessage) error {
	return q.EnqueueBatch(ctx, []JobMessage{msg})
}

// EnqueueBatch adds messages in one transaction.
func (q *RedisQueue) EnqueueBatch(ctx context.Context, msgs []JobMessage) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	now := q.now()

	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return err
		}
		if msg.EnqueuedAt.IsZero() {
			msg.EnqueuedAt = now
		}
		msgBytes, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		qm := &QueuedMessage{
			ID:         uuid.New().String(),
			Message:    msgBytes,
			Priority:   msg.Priority,
			EnqueuedAt: msg.EnqueuedAt,
		}
		qmBytes, err := json.Marshal(qm)
		if err != nil {
			return fmt.Errorf("failed to marshal queued message: %w", err)
		}

		pipe.Set(ctx, q.messageKey(qm.ID), qmBytes, q.config.RetentionPeriod)
		pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: readyScore(qm.Priority, qm.EnqueuedAt), Member: qm.ID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Dequeue retrieves messages from the queue. It returns as soon as at least
// one message was taken and the queue is drained, or when timeout elapses.
func (q *RedisQueue) Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := q.now().Add(timeout)

	var messages []*QueuedMessage
	for len(messages) < maxMessages {
		if err := q.promoteDelayed(ctx); err != nil {
			return messages, err
		}

		result, err := q.client.ZPopMax(ctx, q.queueKey(), 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return messages, fmt.Errorf("failed to pop from queue: %w", err)
		}
		if len(result) == 0 {
			if len(messages) > 0 || !q.now().Before(deadline) {
				return messages, nil
			}
			select {
			case <-time.After(pollInterval):
				continue
			case <-ctx.Done():
				return messages, ctx.Err()
			}
		}

		messageID, _ := result[0].Member.(string)
		qm, err := q.load(ctx, messageID)
		if errors.Is(err, ErrMessageNotFound) {
			// Message data expired, skip
			continue
		}
		if err != nil {
			return messages, err
		}

		qm.VisibleAfter = q.now().Add(q.config.VisibilityTimeout)
		updated, _ := json.Marshal(qm)
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, q.messageKey(messageID), updated, q.config.RetentionPeriod)
		pipe.ZAdd(ctx, q.processingKey(), redis.Z{Score: float64(qm.VisibleAfter.UnixMilli()), Member: messageID})
		if _, err := pipe.Exec(ctx); err != nil {
			return messages, fmt.Errorf("failed to move to processing: %w", err)
		}
		messages = append(messages, qm)
	}
	return messages, nil
}

// promoteDelayed moves nacked messages whose backoff has elapsed back to the
// ready set. ZREM decides which of several concurrent callers moves each one.
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed messages: %w", err)
	}

	for _, messageID := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), messageID).Result()
		if err != nil {
			return fmt.Errorf("failed to promote message: %w", err)
		}
		if removed == 0 {
			continue
		}
		qm, err := q.load(ctx, messageID)
		if errors.Is(err, ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := q.client.ZAdd(ctx, q.queueKey(), redis.Z{Score: readyScore(qm.Priority, qm.EnqueuedAt), Member: messageID}).Err(); err != nil {
			return fmt.Errorf("failed to promote message: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) load(ctx context.Context, messageID string) (*QueuedMessage, error) {
	data, err := q.client.Get(ctx, q.messageKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message data: %w", err)
	}
	var qm QueuedMessage
	if err := json.Unmarshal(data, &qm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &qm, nil
}

// Ack acknowledges successful processing of a message.
func (q *RedisQueue) Ack(ctx context.Context, messageID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), messageID)
	pipe.Del(ctx, q.messageKey(messageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack indicates processing failure; the message is redelivered after a
// backoff, or dead-lettered once it has used its retries.
func (q *RedisQueue) Nack(ctx context.Context, messageID string) error {
	return q.retry(ctx, messageID, "max retries exceeded")
}

func (q *RedisQueue) retry(ctx context.Context, messageID, exhaustedReason string) error {
	qm, err := q.load(ctx, messageID)
	if err != nil {
		return err
	}

	qm.RetryCount++
	if qm.RetryCount >= q.config.Retry.MaxRetries {
		return q.MoveToDeadLetter(ctx, messageID, exhaustedReason)
	}

	qm.VisibleAfter = q.now().Add(q.config.Retry.CalculateBackoff(qm.RetryCount))
	updated, _ := json.Marshal(qm)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), messageID)
	pipe.Set(ctx, q.messageKey(messageID), updated, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(qm.VisibleAfter.UnixMilli()), Member: messageID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// DeadLetter is an entry in the dead letter queue.
type DeadLetter struct {
	Message   json.RawMessage `json:"message"`
	Reason    string          `json:"reason"`
	MovedAt   time.Time       `json:"moved_at"`
	QueueName string          `json:"queue_name"`
}

// MoveToDeadLetter moves a message to the dead letter queue.
func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, messageID, reason string) error {
	data, err := q.client.Get(ctx, q.messageKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	now := q.now()
	entry, _ := json.Marshal(DeadLetter{
		Message:   data,
		Reason:    reason,
		MovedAt:   now.UTC(),
		QueueName: q.name,
	})

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), messageID)
	pipe.ZRem(ctx, q.delayedKey(), messageID)
	pipe.Del(ctx, q.messageKey(messageID))
	pipe.ZAdd(ctx, q.dlqKey(), redis.Z{Score: float64(now.UnixMilli()), Member: string(entry)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

// DeadLetters returns the newest dead-lettered entries.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := q.client.ZRevRange(ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Stats returns the size of each set.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.queueKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	processing := pipe.ZCard(ctx, q.processingKey())
	dead := pipe.ZCard(ctx, q.dlqKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{
		Ready:      ready.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		Dead:       dead.Val(),
	}, nil
}

// Close stops the queue from handing out or accepting messages. The Redis
// client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// RecoverStaleMessages redelivers messages whose visibility timeout expired,
// which happens when a worker dies mid-job. It returns how many it moved.
func (q *RedisQueue) RecoverStaleMessages(ctx context.Context) (int, error) {
	stale, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale messages: %w", err)
	}

	recovered := 0
	for _, messageID := range stale {
		err := q.retry(ctx, messageID, "visibility timeout exceeded")
		if errors.Is(err, ErrMessageNotFound) {
			// Message expired, just remove from processing
			q.client.ZRem(ctx, q.processingKey(), messageID)
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Verify interface compliance
var _ Queue = (*RedisQueue)(nil)
