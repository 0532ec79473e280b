package domain

import "time"

// DeadLetterStatus tracks remediation of a dead-lettered job.
type DeadLetterStatus string

const (
	DeadLetterStatusPending  DeadLetterStatus = "pending"
	DeadLetterStatusResolved DeadLetterStatus = "resolved"
)

// DeadLetterJob captures a permanently failed job with enough context to
// replay it. OriginalJob must always reconstruct an equivalent SyncJob.
type DeadLetterJob struct {
	ID             string              `json:"id"`
	OriginalJobID  string              `json:"original_job_id"`
	ProductID      string              `json:"product_id"`
	Platform       Platform            `json:"platform"`
	BatchID        string              `json:"batch_id,omitempty"`
	FailedAt       time.Time           `json:"failed_at"`
	FinalError     string              `json:"final_error"`
	ErrorCode      string              `json:"error_code,omitempty"`
	TotalAttempts  int                 `json:"total_attempts"`
	Classification ErrorClassification `json:"error_classification"`
	OriginalJob    SyncJob             `json:"original_data"`
	FailureReason  string              `json:"failure_reason"`
	// Priority orders manual remediation, lower is more urgent.
	Priority int              `json:"priority"`
	Status   DeadLetterStatus `json:"status"`
}

// RemediationPriority keys DLQ ordering inversely to severity.
func RemediationPriority(sev ErrorSeverity) int {
	switch sev {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}
