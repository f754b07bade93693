package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectTrigger_SendsJobAndSecret(t *testing.T) {
	jobID, memoID := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DirectPath, r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		var req DirectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, jobID, req.JobID)
		_ = json.NewEncoder(w).Encode(DirectResponse{Success: true, MemoID: &memoID})
	}))
	defer srv.Close()

	resp, err := NewDirectTrigger(srv.URL+"/", "s3cret", srv.Client()).Trigger(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, memoID, *resp.MemoID)
}

func TestDirectTrigger_JobFailureIsAResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(DirectResponse{Error: "fetch: Fireflies integration not connected"})
	}))
	defer srv.Close()

	resp, err := NewDirectTrigger(srv.URL, "s", srv.Client()).Trigger(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Fireflies")
}

func TestDirectTrigger_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(DirectResponse{Success: true})
	}))
	defer srv.Close()

	resp, err := NewDirectTrigger(srv.URL, "s", srv.Client()).Trigger(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDirectTrigger_UnauthorizedIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(DirectResponse{Error: "invalid worker secret"})
	}))
	defer srv.Close()

	_, err := NewDirectTrigger(srv.URL, "wrong", srv.Client()).Trigger(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "worker secret")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDirectTrigger_ConnectionRefusedGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	trig := NewDirectTrigger(url, "s", nil)
	trig.maxRetry = 0
	_, err := trig.Trigger(context.Background(), uuid.New())
	assert.Error(t, err)
}
