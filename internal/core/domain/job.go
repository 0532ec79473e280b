package domain

import (
	"fmt"
	"time"
)

// Platform identifies a target marketplace.
type Platform string

const (
	PlatformShopee Platform = "shopee"
	PlatformTikTok Platform = "tiktok"
	// PlatformBoth fans out into one job per concrete platform at submission.
	PlatformBoth Platform = "both"
)

// Valid reports whether p is a known platform value.
func (p Platform) Valid() bool {
	switch p {
	case PlatformShopee, PlatformTikTok, PlatformBoth:
		return true
	}
	return false
}

// Expand resolves "both" into the concrete platforms a job can target.
func (p Platform) Expand() []Platform {
	if p == PlatformBoth {
		return []Platform{PlatformShopee, PlatformTikTok}
	}
	return []Platform{p}
}

// Priority is a consumer-ordering hint, not a strict total order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Weight maps a priority to its scheduling weight.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 10
	case PriorityLow:
		return -10
	default:
		return 1
	}
}

// JobStatus tracks a job through its state machine:
// pending -> active -> {completed | retry_scheduled -> pending | dead_lettered}.
type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusActive         JobStatus = "active"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusRetryScheduled JobStatus = "retry_scheduled"
	JobStatusDeadLettered   JobStatus = "dead_lettered"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusDeadLettered
}

// JobKind separates product sync jobs from batch coordinators.
type JobKind string

const (
	JobKindSync        JobKind = "sync"
	JobKindCoordinator JobKind = "batch_coordinator"
)

// SyncJob is one unit of work pushing one product to one platform.
type SyncJob struct {
	JobID          string            `json:"job_id"`
	Kind           JobKind           `json:"kind"`
	ProductID      string            `json:"product_id"`
	Platform       Platform          `json:"platform"`
	BatchID        string            `json:"batch_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Priority       Priority          `json:"priority"`
	Weight         int               `json:"weight"`
	RetryCount     int               `json:"retry_count"`
	MaxAttempts    int               `json:"max_attempts"`
	Status         JobStatus         `json:"status"`
	AvailableAt    time.Time         `json:"available_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewJobID derives the stable identity for a job. The sequence makes ids
// unique when the same product is re-submitted for the same platform.
func NewJobID(productID string, platform Platform, batchID string, seq uint64) string {
	if batchID == "" {
		batchID = "-"
	}
	return fmt.Sprintf("%s:%s:%s:%d", productID, platform, batchID, seq)
}
