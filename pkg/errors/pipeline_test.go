package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError_Nil(t *testing.T) {
	if ClassifyError(nil, "fetch") != nil {
		t.Error("expected nil for nil error")
	}
}

func TestClassifyError_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"cancelled", context.Canceled, ErrCodeCancelled},
		{"missing credential", fmt.Errorf("fireflies integration is not connected: %w", ErrMissingCredential), ErrCodeMissingCredential},
		{"429", errors.New("POST /graphql: 429 Too Many Requests"), ErrCodeRateLimit},
		{"unavailable", errors.New("dial tcp: connection refused"), ErrCodeProviderUnavailable},
		{"timeout text", errors.New("request timed out"), ErrCodeTimeout},
		{"json", errors.New("invalid character 'x' looking for beginning of value"), ErrCodeParse},
		{"other", errors.New("something odd"), ErrCodeProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyError(tt.err, "fetch")
			if pe.Code != tt.want {
				t.Errorf("code = %s, want %s", pe.Code, tt.want)
			}
			if pe.Stage != "fetch" {
				t.Errorf("stage = %s", pe.Stage)
			}
			if !errors.Is(pe, tt.err) {
				t.Error("expected cause to be preserved")
			}
		})
	}
}

func TestClassifyError_KeepsExistingPipelineError(t *testing.T) {
	orig := New(ErrCodeEmptyTranscript, "", "transcript is empty", nil)
	pe := ClassifyError(fmt.Errorf("wrap: %w", orig), "fetch")
	if pe != orig {
		t.Fatal("expected the original PipelineError to be returned")
	}
	if pe.Stage != "fetch" {
		t.Errorf("stage = %q", pe.Stage)
	}
	if pe.Error() != "fetch: transcript is empty" {
		t.Errorf("Error() = %q", pe.Error())
	}
}

func TestRetryability(t *testing.T) {
	if !IsErrorRetryable(ClassifyError(errors.New("503 service unavailable"), "llm")) {
		t.Error("provider unavailable should be retryable")
	}
	if IsErrorRetryable(ClassifyError(ErrMissingCredential, "fetch")) {
		t.Error("missing credential should not be retryable")
	}
	if IsErrorRetryable(errors.New("plain")) {
		t.Error("unclassified errors are not retryable")
	}
	if !IsTimeout(ClassifyError(context.DeadlineExceeded, "llm")) {
		t.Error("expected timeout")
	}
}

func TestCategories(t *testing.T) {
	if CategoryOf(ErrCodeMissingCredential) != CategoryConfiguration {
		t.Error("missing credential is a configuration error")
	}
	if CategoryOf(ErrCodeParse) != CategoryMalformed {
		t.Error("parse errors are malformed output")
	}
	if CategoryOf("nope") != CategoryUnknown {
		t.Error("unknown code should map to unknown category")
	}
	for code, info := range ErrorCodeRegistry {
		if info.Code != code {
			t.Errorf("registry entry %s has code %s", code, info.Code)
		}
		if GetSuggestedAction(code) == "" {
			t.Errorf("missing suggested action for %s", code)
		}
	}
}
