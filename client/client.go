// Package client is the HTTP client the CLI uses to talk to the dealmemo
// API. Calls that never reach the server, and 502/503/504 answers, are
// retried with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
	"github.com/otherjamesbrown/dealmemo/pkg/dispatch"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

// Default connection settings.
const (
	DefaultTimeout           = 2 * time.Minute
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Options configures the Client.
type Options struct {
	// Timeout bounds each request.
	Timeout time.Duration

	// Token is the owner bearer token.
	Token string

	// WorkerSecret authorizes the /process endpoints.
	WorkerSecret string

	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DefaultOptions returns Options with default values.
func DefaultOptions() *Options {
	return &Options{
		Timeout:           DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the dealmemo API.
type Client struct {
	baseURL string
	opts    *Options
	http    *http.Client
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), opts: opts, http: hc}
}

// Health is the /healthz body.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// RetryResult is the /process/retry body.
type RetryResult struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// Ingest submits a transcript and returns the job id.
func (c *Client) Ingest(ctx context.Context, req gateway.Request) (uuid.UUID, error) {
	var out struct {
		JobID uuid.UUID `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/ingest", c.opts.Token, req, &out); err != nil {
		return uuid.Nil, err
	}
	return out.JobID, nil
}

// GetJob fetches one of the owner's jobs.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id.String(), c.opts.Token, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists the owner's jobs, newest first. An empty status lists all.
func (c *Client) ListJobs(ctx context.Context, status jobs.Status, limit int) ([]jobs.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, c.opts.Token, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobEvents returns the log entries recorded for a job.
func (c *Client) JobEvents(ctx context.Context, id uuid.UUID, limit int) ([]jobs.Event, error) {
	path := "/jobs/" + id.String() + "/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Events []jobs.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, c.opts.Token, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// WaitForJob polls until the job reaches a terminal status or ctx ends.
// onUpdate, when set, sees every poll.
func (c *Client) WaitForJob(ctx context.Context, id uuid.UUID, interval time.Duration, onUpdate func(*jobs.Job)) (*jobs.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RetryPending re-submits the owner's pending jobs.
func (c *Client) RetryPending(ctx context.Context) (*RetryResult, error) {
	var out RetryResult
	if err := c.do(ctx, http.MethodPost, "/process/retry", c.opts.Token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessDirect runs one job synchronously on the server.
func (c *Client) ProcessDirect(ctx context.Context, id uuid.UUID) (*dispatch.DirectResponse, error) {
	var out dispatch.DirectResponse
	err := c.do(ctx, http.MethodPost, dispatch.DirectPath, c.opts.WorkerSecret, dispatch.DirectRequest{JobID: id}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != http.StatusUnauthorized && out.Error != "" {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessBatch asks the server to recover stale jobs and run up to limit pending jobs.
func (c *Client) ProcessBatch(ctx context.Context, limit int) (*workers.BatchReport, error) {
	var out workers.BatchReport
	path := "/process/worker"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodPost, path, c.opts.WorkerSecret, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reads /healthz. A degraded server returns its checks and an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/healthz", "", nil, &out)
	if out.Status != "" {
		return &out, err
	}
	return nil, err
}

// Version reads /version.
func (c *Client) Version(ctx context.Context) (*buildinfo.Info, error) {
	var out buildinfo.Info
	if err := c.do(ctx, http.MethodGet, "/version", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	if c.opts.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxInterval = c.opts.MaxBackoff
	eb.Multiplier = c.opts.BackoffMultiplier
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.MaxRetries)), ctx)
}

// do sends a JSON request and decodes the reply into out. The reply body is
// decoded even on error statuses so callers can read structured failures.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", buildinfo.UserAgent(buildinfo.ServiceCLI))
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			if path != "/healthz" {
				return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
			}
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)})
		}
		return nil
	}
	return backoff.Retry(op, c.newBackOff(ctx))
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
