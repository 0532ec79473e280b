// Package deadletter captures permanently failed jobs with full replay
// context and drives operator remediation.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/sync/classify"
	"github.com/vuive/marketsync/internal/sync/metrics"
	"github.com/vuive/marketsync/internal/sync/queue"
)

// ErrLogWriteFailed marks a move that stored the dead-letter entry but could
// not write its sync-log row. The job is never lost; callers report the
// logging failure separately.
var ErrLogWriteFailed = errors.New("dead letter stored but sync log write failed")

// Resubmitter re-enters a dead-lettered job into the queue.
type Resubmitter interface {
	AddSyncJob(ctx context.Context, req queue.SubmitRequest) (string, error)
}

// Store manages the dead letter queue.
type Store struct {
	repo      storage.DeadLetterRepository
	syncLog   storage.SyncLogRepository
	submitter Resubmitter
	// statsWindow bounds the failure-rate observation window.
	statsWindow time.Duration
	log         *slog.Logger
}

// NewStore creates a dead letter store.
func NewStore(repo storage.DeadLetterRepository, syncLog storage.SyncLogRepository, submitter Resubmitter) *Store {
	return &Store{
		repo:        repo,
		syncLog:     syncLog,
		submitter:   submitter,
		statsWindow: 24 * time.Hour,
		log:         slog.Default().With("component", "deadletter"),
	}
}

// Move stores a permanently failed job with full replay context and writes
// the tagged sync-log row. The entry is stored even when the log write
// fails; that failure comes back wrapped in ErrLogWriteFailed.
func (s *Store) Move(ctx context.Context, job *domain.SyncJob, finalError, errorCode string) (string, error) {
	cls := classify.ClassifyText(finalError, errorCode)

	reason := fmt.Sprintf("max attempts exceeded (%d)", job.MaxAttempts)
	if !cls.Retryable {
		reason = "non-retryable error: " + string(cls.Category)
	}

	dlj := &domain.DeadLetterJob{
		ID:             uuid.NewString(),
		OriginalJobID:  job.JobID,
		ProductID:      job.ProductID,
		Platform:       job.Platform,
		BatchID:        job.BatchID,
		FailedAt:       time.Now().UTC(),
		FinalError:     finalError,
		ErrorCode:      errorCode,
		TotalAttempts:  job.RetryCount + 1,
		Classification: cls,
		OriginalJob:    *job,
		FailureReason:  reason,
		Priority:       domain.RemediationPriority(cls.Severity),
		Status:         domain.DeadLetterStatusPending,
	}

	if err := s.repo.Insert(ctx, dlj); err != nil {
		return "", fmt.Errorf("failed to store dead letter job: %w", err)
	}
	metrics.DeadLetterDepth.Inc()
	s.log.Warn("Job moved to dead letter queue",
		"job_id", job.JobID, "dlq_id", dlj.ID,
		"category", cls.Category, "reason", reason)

	entry := &domain.SyncLogEntry{
		BatchID:      job.BatchID,
		JobID:        job.JobID,
		ProductID:    job.ProductID,
		Platform:     job.Platform,
		Status:       domain.SyncLogStatusFailed,
		ErrorMessage: finalError,
		ErrorCode:    errorCode,
		Attempts:     dlj.TotalAttempts,
		MovedToDLQ:   true,
		SyncedAt:     time.Now().UTC(),
	}
	if err := s.syncLog.Append(ctx, entry); err != nil {
		return dlj.ID, fmt.Errorf("%w: %v", ErrLogWriteFailed, err)
	}
	return dlj.ID, nil
}

// Stats summarizes the dead letter queue for operators.
type Stats struct {
	TotalPending int                          `json:"total_pending"`
	ByPlatform   map[domain.Platform]int      `json:"by_platform"`
	ByCategory   map[domain.ErrorCategory]int `json:"by_category"`
	Recent       []*domain.DeadLetterJob      `json:"recent_failures"`
	// FailureRate is failed/(failed+succeeded) over the observation window.
	FailureRate float64 `json:"failure_rate"`
}

const recentLimit = 10

// GetStats aggregates pending entries and the recent failure rate.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	pending, err := s.repo.List(ctx, storage.DeadLetterFilter{Status: domain.DeadLetterStatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}

	stats := &Stats{
		TotalPending: len(pending),
		ByPlatform:   make(map[domain.Platform]int),
		ByCategory:   make(map[domain.ErrorCategory]int),
	}
	for _, dlj := range pending {
		stats.ByPlatform[dlj.Platform]++
		stats.ByCategory[dlj.Classification.Category]++
	}

	recent := make([]*domain.DeadLetterJob, len(pending))
	copy(recent, pending)
	// List comes back priority-ordered; recent failures are time-ordered.
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].FailedAt.After(recent[j].FailedAt)
	})
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	stats.Recent = recent

	succeeded, failed, err := s.syncLog.CountOutcomesSince(ctx, time.Now().UTC().Add(-s.statsWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to compute failure rate: %w", err)
	}
	if succeeded+failed > 0 {
		stats.FailureRate = float64(failed) / float64(failed+succeeded)
	}

	metrics.DeadLetterDepth.Set(float64(stats.TotalPending))
	return stats, nil
}

// RetryResult reports one manual retry.
type RetryResult struct {
	Success  bool   `json:"success"`
	NewJobID string `json:"new_job_id,omitempty"`
}

// Retry re-submits the original job with a fresh retry budget and marks the
// entry resolved.
func (s *Store) Retry(ctx context.Context, dlqID string) (*RetryResult, error) {
	dlj, err := s.repo.Get(ctx, dlqID)
	if err != nil {
		return nil, err
	}
	if dlj.Status == domain.DeadLetterStatusResolved {
		return nil, fmt.Errorf("dead letter job %s already resolved", dlqID)
	}

	metadata := make(map[string]string, len(dlj.OriginalJob.Metadata)+2)
	for k, v := range dlj.OriginalJob.Metadata {
		metadata[k] = v
	}
	metadata["dlq_retry"] = "true"
	metadata["original_job_id"] = dlj.OriginalJobID

	newJobID, err := s.submitter.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID:      dlj.OriginalJob.ProductID,
		Platform:       dlj.OriginalJob.Platform,
		Priority:       dlj.OriginalJob.Priority,
		BatchID:        dlj.OriginalJob.BatchID,
		OrganizationID: dlj.OriginalJob.OrganizationID,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resubmit job: %w", err)
	}

	if err := s.repo.MarkResolved(ctx, dlqID); err != nil {
		return nil, fmt.Errorf("job resubmitted as %s but entry not resolved: %w", newJobID, err)
	}
	metrics.DeadLetterDepth.Dec()

	s.log.Info("Dead letter job retried", "dlq_id", dlqID, "new_job_id", newJobID)
	return &RetryResult{Success: true, NewJobID: newJobID}, nil
}

// BulkRetryFilter selects entries for bulk remediation.
type BulkRetryFilter struct {
	Platform domain.Platform      `json:"platform,omitempty"`
	Category domain.ErrorCategory `json:"error_type,omitempty"`
	BatchID  string               `json:"batch_id,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
}

// BulkRetryResult reports a bulk remediation run.
type BulkRetryResult struct {
	RetriedCount int      `json:"retried_count"`
	FailedCount  int      `json:"failed_count"`
	Errors       []string `json:"errors,omitempty"`
}

// BulkRetry retries every matching pending entry individually; one entry's
// failure never aborts the rest.
func (s *Store) BulkRetry(ctx context.Context, filter BulkRetryFilter) (*BulkRetryResult, error) {
	matches, err := s.repo.List(ctx, storage.DeadLetterFilter{
		Platform: filter.Platform,
		Category: filter.Category,
		BatchID:  filter.BatchID,
		Status:   domain.DeadLetterStatusPending,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}

	result := &BulkRetryResult{}
	for _, dlj := range matches {
		if _, err := s.Retry(ctx, dlj.ID); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dlj.ID, err))
			continue
		}
		result.RetriedCount++
	}

	s.log.Info("Bulk retry finished",
		"retried", result.RetriedCount, "failed", result.FailedCount)
	return result, nil
}

// Cleanup purges entries older than the retention window, resolved or not.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup dead letter jobs: %w", err)
	}
	if removed > 0 {
		s.log.Info("Cleaned up dead letter jobs", "removed", removed, "older_than_days", olderThanDays)
	}
	return removed, nil
}
