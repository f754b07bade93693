package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrNoJSON means model output contained no JSON value.
var ErrNoJSON = errors.New("llm: no JSON in model output")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ExtractJSON returns the JSON object or array embedded in model output,
// stripping code fences and surrounding prose.
func ExtractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", ErrNoJSON
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("%w: unbalanced or invalid value", ErrNoJSON)
	}
	return candidate, nil
}

// DecodeJSON extracts JSON from content into v and validates v's struct tags.
func DecodeJSON(content string, v any) error {
	raw, err := ExtractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding model output: %w", err)
	}
	return Validate(v)
}

// Validate checks validate tags on a struct (or pointer to struct).
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("model output failed validation: %w", err)
	}
	return nil
}

// ValidateVar checks a single value against a tag, e.g. "oneof=a b".
func ValidateVar(v any, tag string) error {
	return validate.Var(v, tag)
}
