package queues

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMessage_Validate(t *testing.T) {
	assert.NoError(t, JobMessage{JobID: uuid.New(), Priority: PriorityHigh}.Validate())
	assert.ErrorIs(t, JobMessage{}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, JobMessage{JobID: uuid.New(), Priority: 7}.Validate(), ErrInvalidMessage)
}

func TestQueuedMessage_ParseMessage(t *testing.T) {
	msg := JobMessage{JobID: uuid.New(), UserID: uuid.New(), Source: "fireflies", Priority: PriorityNormal}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	qm := &QueuedMessage{ID: "m1", Message: raw}
	got, err := qm.ParseMessage()
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, got.JobID)
	assert.Equal(t, "fireflies", got.Source)

	_, err = (&QueuedMessage{ID: "m2", Message: json.RawMessage(`{"job_id": 12}`)}).ParseMessage()
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = (&QueuedMessage{ID: "m3", Message: json.RawMessage(`{}`)}).ParseMessage()
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestReadyScore_OrdersByPriorityThenAge(t *testing.T) {
	older := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	assert.Greater(t, readyScore(PriorityNormal, older), readyScore(PriorityNormal, newer))
	assert.Greater(t, readyScore(PriorityHigh, newer), readyScore(PriorityNormal, older))
	assert.Greater(t, readyScore(PriorityNormal, newer), readyScore(PriorityLow, older))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultQueueName, cfg.Name)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Greater(t, cfg.VisibilityTimeout, 10*time.Minute)
}
