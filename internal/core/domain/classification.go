package domain

// ErrorCategory is the closed set of failure categories.
type ErrorCategory string

const (
	ErrorCategoryRateLimit      ErrorCategory = "RATE_LIMIT"
	ErrorCategoryNetwork        ErrorCategory = "NETWORK"
	ErrorCategoryAuthentication ErrorCategory = "AUTHENTICATION"
	ErrorCategoryValidation     ErrorCategory = "VALIDATION"
	ErrorCategorySystem         ErrorCategory = "SYSTEM"
	ErrorCategoryUnknown        ErrorCategory = "UNKNOWN"
)

// ErrorSeverity ranks how urgently a failure needs attention.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// ErrorClassification is the verdict for one raw failure. It is attached to
// log and dead-letter records but never persisted on its own.
type ErrorClassification struct {
	Category    ErrorCategory `json:"category"`
	Severity    ErrorSeverity `json:"severity"`
	Retryable   bool          `json:"retryable"`
	Description string        `json:"description"`
}
