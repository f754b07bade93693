package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealmemo/pkg/dispatch"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

func runJobs(t *testing.T, deps *APICommandDeps, args ...string) (string, error) {
	t.Helper()
	cmd := NewJobsCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestJobsCommand_Structure(t *testing.T) {
	cmd := NewJobsCommand(&APICommandDeps{})

	assert.Equal(t, "jobs", cmd.Use)
	assert.Contains(t, cmd.Aliases, "job")
	for _, name := range []string{"get", "list", "events", "retry", "process"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestJobsGet(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, testOwnerToken)
		assert.Equal(t, id.String(), r.PathValue("id"))
		writeJSON(t, w, http.StatusOK, testJob(id, jobs.StatusCompleted))
	})

	out, err := runJobs(t, newTestAPI(t, mux), "get", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Job "+id.String())
	assert.Contains(t, out, "completed")
}

func TestJobsGet_JSON(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, testJob(id, jobs.StatusPending))
	})

	out, err := runJobs(t, newTestAPI(t, mux), "get", id.String(), "-o", "json")
	require.NoError(t, err)

	var job jobs.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, jobs.StatusPending, job.Status)
}

func TestJobsGet_NotFound(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "job not found"})
	})

	_, err := runJobs(t, newTestAPI(t, mux), "get", id.String())
	require.Error(t, err)
	assert.Equal(t, "job "+id.String()+" not found", err.Error())
}

func TestJobsGet_InvalidID(t *testing.T) {
	_, err := runJobs(t, &APICommandDeps{}, "get", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid job id "nope"`)
}

func TestJobsList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"jobs": []jobs.Job{testJob(uuid.New(), jobs.StatusFailed)},
		})
	})

	out, err := runJobs(t, newTestAPI(t, mux), "list", "--status", "failed", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "Acme seed pitch")
}

func TestJobsList_InvalidStatus(t *testing.T) {
	_, err := runJobs(t, &APICommandDeps{}, "list", "--status", "stuck")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestJobsEvents(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"events": []jobs.Event{{JobID: id, Level: "warn", Message: "drive upload failed"}},
		})
	})

	out, err := runJobs(t, newTestAPI(t, mux), "events", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "drive upload failed")
}

func TestJobsRetry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process/retry", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, testOwnerToken)
		writeJSON(t, w, http.StatusOK, map[string]int{"submitted": 3, "failed": 1})
	})

	out, err := runJobs(t, newTestAPI(t, mux), "retry")
	require.NoError(t, err)
	assert.Equal(t, "Re-submitted 3 pending job(s), 1 failed.\n", out)
}

func TestJobsProcess_Direct(t *testing.T) {
	id := uuid.New()
	memoID := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+dispatch.DirectPath, func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, testWorkerSecret)
		var req dispatch.DirectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, id, req.JobID)
		writeJSON(t, w, http.StatusOK, dispatch.DirectResponse{Success: true, MemoID: &memoID})
	})

	out, err := runJobs(t, newTestAPI(t, mux), "process", id.String())
	require.NoError(t, err)
	assert.Equal(t, "Job "+id.String()+" completed. Memo "+memoID.String()+"\n", out)
}

func TestJobsProcess_DirectFailure(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+dispatch.DirectPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, dispatch.DirectResponse{Error: "llm unavailable"})
	})

	_, err := runJobs(t, newTestAPI(t, mux), "process", id.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm unavailable")
}

func TestJobsProcess_Batch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process/worker", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, testWorkerSecret)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writeJSON(t, w, http.StatusOK, workers.BatchReport{RecoveredStale: 1, Processed: 2})
	})

	out, err := runJobs(t, newTestAPI(t, mux), "process", "--limit", "2")
	require.NoError(t, err)
	assert.Equal(t, "Recovered 1 stale, processed 2, failed 0.\n", out)
}
