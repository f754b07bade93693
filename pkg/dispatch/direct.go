package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DirectPath is the direct-processing route.
const DirectPath = "/process/direct"

// DirectRequest is the body of a direct-processing call.
type DirectRequest struct {
	JobID uuid.UUID `json:"jobId"`
}

// DirectResponse is the reply of a direct-processing call.
type DirectResponse struct {
	Success bool       `json:"success"`
	MemoID  *uuid.UUID `json:"memoId,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// DirectTrigger calls the direct-processing endpoint with the worker secret.
// Requests that never reached the server are retried with exponential
// backoff; anything the server answered is final.
type DirectTrigger struct {
	url        string
	secret     string
	httpClient *http.Client
	maxRetry   time.Duration
}

// NewDirectTrigger creates a trigger for the service at baseURL.
func NewDirectTrigger(baseURL, secret string, httpClient *http.Client) *DirectTrigger {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DirectTrigger{
		url:        strings.TrimRight(baseURL, "/") + DirectPath,
		secret:     secret,
		httpClient: httpClient,
		maxRetry:   30 * time.Second,
	}
}

// Trigger runs jobID synchronously on the direct endpoint.
func (t *DirectTrigger) Trigger(ctx context.Context, jobID uuid.UUID) (*DirectResponse, error) {
	body, err := json.Marshal(DirectRequest{JobID: jobID})
	if err != nil {
		return nil, err
	}

	var out *DirectResponse
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.secret)

		resp, err := t.httpClient.Do(req)
		if err != nil {
			if isConnectError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("direct endpoint returned %s", resp.Status)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("reading direct response: %w", err))
		}
		var dr DirectResponse
		if err := json.Unmarshal(raw, &dr); err != nil {
			return backoff.Permanent(fmt.Errorf("direct endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(raw))))
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("direct endpoint rejected the worker secret: %s", dr.Error))
		}
		out = &dr
		return nil
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if t.maxRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 500 * time.Millisecond
		exp.MaxElapsedTime = t.maxRetry
		bo = exp
	}
	if err := backoff.Retry(call, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("triggering job %s: %w", jobID, err)
	}
	return out, nil
}

// isConnectError reports whether err happened before the request was sent.
func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
