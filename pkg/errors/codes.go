package errors

// Category groups error codes by how the pipeline reacts to them.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryTransient     Category = "transient"
	CategoryMalformed     Category = "malformed_output"
	CategoryPersistence   Category = "persistence"
	CategoryDuplicate     Category = "duplicate"
	CategoryUnknown       Category = "unknown"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Category        Category
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrCodeMissingCredential: {
		Code:            ErrCodeMissingCredential,
		Category:        CategoryConfiguration,
		Description:     "Integration credential is missing or was rejected",
		SuggestedAction: "Reconnect the integration: dealmemo integration connect <provider>",
	},
	ErrCodeRateLimit: {
		Code:            ErrCodeRateLimit,
		Category:        CategoryTransient,
		Retryable:       true,
		Description:     "Provider or model API rate limit exceeded",
		SuggestedAction: "Retry later: dealmemo jobs retry",
	},
	ErrCodeProviderUnavailable: {
		Code:            ErrCodeProviderUnavailable,
		Category:        CategoryTransient,
		Retryable:       true,
		Description:     "Transcript provider or model service unreachable",
		SuggestedAction: "Check provider status, then retry: dealmemo jobs retry",
	},
	ErrCodeTimeout: {
		Code:            ErrCodeTimeout,
		Category:        CategoryTransient,
		Retryable:       true,
		Description:     "Operation exceeded its time limit",
		SuggestedAction: "Retry: dealmemo jobs retry",
	},
	ErrCodeCancelled: {
		Code:            ErrCodeCancelled,
		Category:        CategoryTransient,
		Description:     "Operation cancelled by shutdown",
		SuggestedAction: "The reaper will reset the job once its lease expires",
	},
	ErrCodeParse: {
		Code:            ErrCodeParse,
		Category:        CategoryMalformed,
		Description:     "Generated output did not match the expected structure",
		SuggestedAction: "No action needed; the stage yields an empty result",
	},
	ErrCodeEmptyTranscript: {
		Code:            ErrCodeEmptyTranscript,
		Category:        CategoryConfiguration,
		Description:     "Transcript has no text",
		SuggestedAction: "Check the source recording or paste the transcript manually",
	},
	ErrCodePersistence: {
		Code:            ErrCodePersistence,
		Category:        CategoryPersistence,
		Retryable:       true,
		Description:     "Database write failed",
		SuggestedAction: "Check database health: dealmemo db status",
	},
	ErrCodeDuplicate: {
		Code:            ErrCodeDuplicate,
		Category:        CategoryDuplicate,
		Description:     "Transcript was already imported",
		SuggestedAction: "No action needed; the existing memo is reused",
	},
	ErrCodeProcessing: {
		Code:            ErrCodeProcessing,
		Category:        CategoryUnknown,
		Description:     "Unclassified processing error",
		SuggestedAction: "Inspect the job history: dealmemo jobs show <job-id>",
	},
}

// IsRetryable reports whether code represents a transient error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// CategoryOf returns the category for code.
func CategoryOf(code ErrorCode) Category {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Category
	}
	return CategoryUnknown
}

// GetSuggestedAction returns the suggested action for code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Inspect the job history: dealmemo jobs show <job-id>"
}
