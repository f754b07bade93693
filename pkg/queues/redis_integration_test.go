//go:build integration

package queues

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testClient *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("starting redis: %v", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		log.Fatalf("redis endpoint: %v", err)
	}
	testClient = redis.NewClient(&redis.Options{Addr: endpoint})

	code := m.Run()
	_ = testClient.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "test:" + uuid.NewString()
	cfg.VisibilityTimeout = time.Minute
	return NewRedisQueue(testClient, cfg)
}

func TestRedisQueue_PriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	base := time.Now().Add(-time.Hour)

	first, second, urgent := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, q.EnqueueBatch(ctx, []JobMessage{
		{JobID: first, Priority: PriorityNormal, EnqueuedAt: base},
		{JobID: second, Priority: PriorityNormal, EnqueuedAt: base.Add(time.Second)},
		{JobID: urgent, Priority: PriorityHigh, EnqueuedAt: base.Add(2 * time.Second)},
	}))

	msgs, err := q.Dequeue(ctx, 3, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	var order []uuid.UUID
	for _, qm := range msgs {
		m, err := qm.ParseMessage()
		require.NoError(t, err)
		order = append(order, m.JobID)
	}
	assert.Equal(t, []uuid.UUID{urgent, first, second}, order)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processing: 3}, stats)
}

func TestRedisQueue_AckRemovesMessage(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(ctx, JobMessage{JobID: uuid.New(), Priority: PriorityNormal}))

	msgs, err := q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, q.Ack(ctx, msgs[0].ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestRedisQueue_DequeueTimesOutWhenEmpty(t *testing.T) {
	q := newTestQueue(t)
	start := time.Now()
	msgs, err := q.Dequeue(context.Background(), 1, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestRedisQueue_NackDelaysThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	clock := time.Now()
	q.now = func() time.Time { return clock }
	require.NoError(t, q.Enqueue(ctx, JobMessage{JobID: uuid.New(), Priority: PriorityNormal}))

	for attempt := 1; attempt < q.config.Retry.MaxRetries; attempt++ {
		msgs, err := q.Dequeue(ctx, 1, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "attempt %d", attempt)
		require.NoError(t, q.Nack(ctx, msgs[0].ID))

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Delayed)

		// Still backing off.
		msgs, err = q.Dequeue(ctx, 1, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		clock = clock.Add(q.config.Retry.MaxBackoff)
	}

	msgs, err := q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, q.config.Retry.MaxRetries-1, msgs[0].RetryCount)
	require.NoError(t, q.Nack(ctx, msgs[0].ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "max retries exceeded", dead[0].Reason)
}

func TestRedisQueue_RecoverStaleMessages(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	clock := time.Now()
	q.now = func() time.Time { return clock }
	require.NoError(t, q.Enqueue(ctx, JobMessage{JobID: uuid.New(), Priority: PriorityNormal}))

	msgs, err := q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	n, err := q.RecoverStaleMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock = clock.Add(q.config.VisibilityTimeout + time.Second)
	n, err = q.RecoverStaleMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Processing)
	assert.Equal(t, int64(1), stats.Delayed)
}

func TestRedisQueue_Closed(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), JobMessage{JobID: uuid.New()}), ErrQueueClosed)
}
