package domain

import "time"

// SyncLogStatus is the outcome recorded for one attempt.
type SyncLogStatus string

const (
	SyncLogStatusSuccess SyncLogStatus = "success"
	SyncLogStatusFailed  SyncLogStatus = "failed"
)

// SyncLogEntry is one append-only attempt record. Rows are never mutated
// after insert.
type SyncLogEntry struct {
	ID              string            `json:"id"`
	BatchID         string            `json:"batch_id,omitempty"`
	JobID           string            `json:"job_id"`
	ProductID       string            `json:"product_id"`
	Platform        Platform          `json:"platform"`
	Status          SyncLogStatus     `json:"status"`
	RequestPayload  map[string]string `json:"request_payload,omitempty"`
	ResponsePayload map[string]string `json:"response_payload,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	Attempts        int               `json:"attempts"`
	MovedToDLQ      bool              `json:"moved_to_dlq"`
	SyncedAt        time.Time         `json:"synced_at"`
}
