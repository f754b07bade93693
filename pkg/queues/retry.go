package queues

import (
	"context"
	"errors"
	"time"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
)

// RetryPolicy defines retry behavior for failed messages.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff returns the delay before redelivery attempt retryCount.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// RetryDecision represents the decision about whether to retry.
type RetryDecision struct {
	ShouldRetry     bool
	BackoffDuration time.Duration
	Reason          string
}

// DecideRetry decides what to do with a message whose handler returned err
// after retryCount earlier redeliveries. Classified errors follow the error
// code registry; unclassified errors are retried.
func (p RetryPolicy) DecideRetry(err error, retryCount int) RetryDecision {
	if retryCount >= p.MaxRetries {
		return RetryDecision{Reason: "max retries exceeded"}
	}
	if errors.Is(err, ErrInvalidMessage) {
		return RetryDecision{Reason: "invalid message"}
	}
	if errors.Is(err, context.Canceled) {
		return RetryDecision{ShouldRetry: true, Reason: "worker shutting down"}
	}
	if code := dmerrors.CodeOf(err); code != "" && !dmerrors.IsRetryable(code) {
		return RetryDecision{Reason: "permanent error: " + string(code)}
	}
	return RetryDecision{
		ShouldRetry:     true,
		BackoffDuration: p.CalculateBackoff(retryCount),
		Reason:          "retryable error",
	}
}
