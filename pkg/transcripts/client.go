package transcripts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError is a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API returned %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Unauthorized reports a rejected credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// httpDoer is the part of *http.Client the provider clients use.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type apiClient struct {
	provider   string
	http       httpDoer
	maxRetries uint64
	// initialInterval is shortened in tests.
	initialInterval time.Duration
}

func newAPIClient(provider string, doer httpDoer) apiClient {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return apiClient{provider: provider, http: doer, maxRetries: 3, initialInterval: 500 * time.Millisecond}
}

// doJSON sends a request built by newReq and decodes a 2xx body into out.
// 429 and 5xx responses and transport errors are retried with exponential backoff.
func (c apiClient) doJSON(ctx context.Context, newReq func() (*http.Request, error), out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.Reset()
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	op := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%s request: %w", c.provider, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
		if err != nil {
			return fmt.Errorf("reading %s response: %w", c.provider, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Message: errorMessage(body)}
			if apiErr.retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding %s response: %w", c.provider, err))
		}
		return nil
	}

	err := backoff.Retry(op, retry)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func jsonRequest(method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// errorMessage pulls a readable message out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case len(payload.Errors) > 0:
			return payload.Errors[0].Message
		case payload.Error != nil:
			return fmt.Sprint(payload.Error)
		}
	}
	s := string(bytes.TrimSpace(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
