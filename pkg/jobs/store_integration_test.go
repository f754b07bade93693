//go:build integration

package jobs

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealmemo/pkg/db/dbtest"
	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

var testStore *Store

func TestMain(m *testing.M) {
	ctx := context.Background()
	pg, err := dbtest.Start(ctx)
	if err != nil {
		log.Fatalf("starting postgres: %v", err)
	}
	testStore = NewStore(pg.Pool)
	code := m.Run()
	pg.Stop(ctx)
	os.Exit(code)
}

func createJob(t *testing.T) *Job {
	t.Helper()
	job, err := testStore.Create(context.Background(), NewJob{
		UserID:   uuid.New(),
		Source:   SourceManual,
		Metadata: Metadata{Title: "Weekly sync", Content: "Alice: hi"},
	})
	require.NoError(t, err)
	return job
}

func TestStore_CreateAndClaim(t *testing.T) {
	ctx := context.Background()
	job := createJob(t)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "Weekly sync", job.Metadata.Title)

	claimed, err := testStore.Claim(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.LeaseExpiresAt)

	_, err = testStore.Claim(ctx, job.ID, time.Minute)
	assert.True(t, dmerrors.IsInvalidState(err))

	_, err = testStore.Claim(ctx, uuid.New(), time.Minute)
	assert.True(t, dmerrors.IsNotFound(err))
}

func TestStore_ProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	job := createJob(t)
	_, err := testStore.Claim(ctx, job.ID, time.Minute)
	require.NoError(t, err)

	require.NoError(t, testStore.UpdateProgress(ctx, job.ID, "generating memo", 60, time.Minute))
	require.NoError(t, testStore.UpdateProgress(ctx, job.ID, "classifying meeting", 25, time.Minute))

	got, err := testStore.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, "classifying meeting", got.CurrentStep)
}

func TestStore_CompleteAndFail(t *testing.T) {
	ctx := context.Background()
	job := createJob(t)
	memoID := uuid.New()
	require.NoError(t, testStore.Complete(ctx, job.ID, Result{MemoID: memoID, Skipped: true}))

	got, err := testStore.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, memoID, got.Result.MemoID)
	assert.True(t, got.Result.Skipped)

	other := createJob(t)
	require.NoError(t, testStore.Fail(ctx, other.ID, "fetch: boom"))
	got, err = testStore.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "fetch: boom", got.Error)
}

func TestStore_RecoverStale(t *testing.T) {
	ctx := context.Background()
	job := createJob(t)
	_, err := testStore.Claim(ctx, job.ID, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	report, err := testStore.RecoverStale(ctx, 3)
	require.NoError(t, err)
	assert.Contains(t, report.Reset, job.ID)

	got, err := testStore.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	_, err = testStore.Claim(ctx, job.ID, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	report, err = testStore.RecoverStale(ctx, 2)
	require.NoError(t, err)
	assert.Contains(t, report.Failed, job.ID)
}

func TestStore_ClaimPendingSkipsClaimed(t *testing.T) {
	ctx := context.Background()
	createJob(t)
	createJob(t)

	first, err := testStore.ClaimPending(ctx, 100, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := testStore.ClaimPending(ctx, 100, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestStore_WriteBatchAndListEvents(t *testing.T) {
	ctx := context.Background()
	job := createJob(t)
	err := testStore.WriteBatch(ctx, []logging.LogEntry{
		{JobID: job.ID.String(), Level: "info", Message: "fetched", Fields: map[string]string{"chars": "42"}, Timestamp: time.Now()},
		{JobID: "not-a-uuid", Level: "info", Message: "dropped", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	events, err := testStore.ListEvents(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fetched", events[0].Message)
	assert.Equal(t, "42", events[0].Fields["chars"])
}
