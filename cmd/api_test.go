package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
)

const (
	testOwnerToken   = "owner-token"
	testWorkerSecret = "worker-secret"
)

// newTestAPI starts an httptest server and returns deps pointing at it.
func newTestAPI(t *testing.T, mux *http.ServeMux) *APICommandDeps {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &APICommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) {
			cfg := config.DefaultConfig()
			cfg.ServerURL = srv.URL
			return cfg, nil
		},
		NewClient: func(cfg *config.CLIConfig) (*client.Client, error) {
			opts := client.DefaultOptions()
			opts.MaxRetries = 0
			opts.Token = testOwnerToken
			opts.WorkerSecret = testWorkerSecret
			return client.New(cfg.ServerURL, opts), nil
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func requireBearer(t *testing.T, r *http.Request, token string) {
	t.Helper()
	assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
}

func testJob(id uuid.UUID, status jobs.Status) jobs.Job {
	return jobs.Job{
		ID:          id,
		Source:      jobs.SourceManual,
		Status:      status,
		CurrentStep: "done",
		Progress:    100,
		Metadata:    jobs.Metadata{Title: "Acme seed pitch"},
		CreatedAt:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestOutputFormat(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFormat = config.OutputFormatYAML

	f, err := outputFormat(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, config.OutputFormatYAML, f)

	f, err = outputFormat(cfg, "json")
	require.NoError(t, err)
	assert.Equal(t, config.OutputFormatJSON, f)

	_, err = outputFormat(cfg, "csv")
	assert.Error(t, err)
}

func TestWriteJob_IncludesResult(t *testing.T) {
	job := testJob(uuid.New(), jobs.StatusCompleted)
	job.Result = &jobs.Result{
		MemoID:         uuid.New(),
		Category:       "pitch",
		CompanyName:    "Acme",
		ContactsLinked: 2,
		TasksCreated:   1,
		DocumentURL:    "https://docs.google.com/document/d/abc",
	}

	var buf bytes.Buffer
	writeJob(&buf, &job)
	out := buf.String()

	assert.Contains(t, out, job.ID.String())
	assert.Contains(t, out, "Acme seed pitch")
	assert.Contains(t, out, "Company:   Acme")
	assert.Contains(t, out, "Contacts:  2")
	assert.Contains(t, out, "https://docs.google.com/document/d/abc")
}

func TestWriteEvents_SortsFields(t *testing.T) {
	var buf bytes.Buffer
	writeEvents(&buf, []jobs.Event{{
		Level:     "info",
		Message:   "memo generated",
		Fields:    map[string]string{"template": "pitch", "chars": "5120"},
		CreatedAt: time.Now(),
	}})

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "memo generated chars=5120 template=pitch")
}

func TestWriteJobTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	writeJobTable(&buf, nil)
	assert.Equal(t, "No jobs found.\n", buf.String())
}
