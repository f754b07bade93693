package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// truncationMarker is appended to text cut to a token budget.
const truncationMarker = "\n[transcript truncated]"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// cl100k loads the encoding once. It returns nil when the BPE ranks cannot
// be loaded, in which case callers fall back to an estimate.
func cl100k() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the cl100k_base token count of text.
func CountTokens(text string) int {
	if enc := cl100k(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// EstimateTokens approximates tokens as one per three runes.
func EstimateTokens(text string) int {
	return len([]rune(text)) / 3
}

// Truncate cuts text to at most maxTokens tokens. Text within budget is
// returned unchanged.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := cl100k(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + truncationMarker
	}

	runes := []rune(text)
	if len(runes) <= maxTokens*3 {
		return text
	}
	return string(runes[:maxTokens*3]) + truncationMarker
}
