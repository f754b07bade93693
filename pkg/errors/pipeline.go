package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	ErrCodeMissingCredential   ErrorCode = "missing_credential"
	ErrCodeRateLimit           ErrorCode = "rate_limit"
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	ErrCodeTimeout             ErrorCode = "timeout"
	ErrCodeCancelled           ErrorCode = "cancelled"
	ErrCodeParse               ErrorCode = "parse_error"
	ErrCodeEmptyTranscript     ErrorCode = "empty_transcript"
	ErrCodePersistence         ErrorCode = "persistence_error"
	ErrCodeDuplicate           ErrorCode = "duplicate_transcript"
	ErrCodeProcessing          ErrorCode = "processing_error"
)

// PipelineError is a structured error raised at a stage boundary.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Cause    error
}

// New builds a PipelineError with an explicit code.
func New(code ErrorCode, stage, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Message: message, Cause: cause}
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyError wraps err as a *PipelineError for stage. An err that is
// already a PipelineError keeps its code and gains the stage if it had none.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		if existing.Stage == "" {
			existing.Stage = stage
		}
		return existing
	}

	pe := &PipelineError{Stage: stage, Cause: err, Message: err.Error()}

	switch {
	case errors.Is(err, ErrMissingCredential):
		pe.Code = ErrCodeMissingCredential
		return pe
	case errors.Is(err, context.DeadlineExceeded):
		pe.Code = ErrCodeTimeout
		return pe
	case errors.Is(err, context.Canceled):
		pe.Code = ErrCodeCancelled
		return pe
	}

	lower := strings.ToLower(pe.Message)
	switch {
	case containsAny(lower, "rate limit", "429", "too many requests", "quota exceeded", "resource_exhausted"):
		pe.Code = ErrCodeRateLimit
	case containsAny(lower, "connection refused", "unavailable", "503", "502", "no such host", "connection reset"):
		pe.Code = ErrCodeProviderUnavailable
	case containsAny(lower, "deadline exceeded", "timed out", "timeout"):
		pe.Code = ErrCodeTimeout
	case containsAny(lower, "invalid character", "unexpected end of json", "cannot unmarshal"):
		pe.Code = ErrCodeParse
	default:
		pe.Code = ErrCodeProcessing
	}
	return pe
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CodeOf returns the code of the first PipelineError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// IsErrorRetryable reports whether err is a PipelineError whose code is transient.
func IsErrorRetryable(err error) bool {
	code := CodeOf(err)
	if code == "" {
		return false
	}
	return IsRetryable(code)
}
