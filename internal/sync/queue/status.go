package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
)

// BatchState is the derived aggregate status of a batch.
type BatchState string

const (
	BatchStatePending             BatchState = "pending"
	BatchStateRunning             BatchState = "running"
	BatchStateCompleted           BatchState = "completed"
	BatchStateCompletedWithErrors BatchState = "completed_with_errors"
)

// JobSummary is the per-job view inside a batch status.
type JobSummary struct {
	JobID      string           `json:"job_id"`
	ProductID  string           `json:"product_id"`
	Platform   domain.Platform  `json:"platform"`
	Status     domain.JobStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	LastError  string           `json:"last_error,omitempty"`
}

// BatchStatus is an ephemeral computed view over current job states.
type BatchStatus struct {
	BatchID    string       `json:"batch_id"`
	State      BatchState   `json:"status"`
	Total      int          `json:"total_jobs"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	InProgress int          `json:"in_progress"`
	Pending    int          `json:"pending"`
	Jobs       []JobSummary `json:"jobs"`
}

// Stats is the queue-wide state breakdown.
type Stats struct {
	Pending        int   `json:"pending"`
	Active         int   `json:"active"`
	RetryScheduled int   `json:"retry_scheduled"`
	Completed      int   `json:"completed"`
	DeadLettered   int   `json:"dead_lettered"`
	Ready          int64 `json:"ready"`
	Delayed        int64 `json:"delayed"`
	Paused         bool  `json:"paused"`
}

// GetBatchStatus aggregates counts and per-job summaries for one batch by
// filtering all known jobs on batch id. Coordinator jobs are bookkeeping and
// excluded from the counts.
func (s *Service) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	jobs, err := s.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	status := &BatchStatus{BatchID: batchID}
	for _, job := range jobs {
		if job.Kind == domain.JobKindCoordinator {
			continue
		}
		status.Total++
		status.Jobs = append(status.Jobs, JobSummary{
			JobID:      job.JobID,
			ProductID:  job.ProductID,
			Platform:   job.Platform,
			Status:     job.Status,
			RetryCount: job.RetryCount,
			LastError:  job.LastError,
		})
		switch job.Status {
		case domain.JobStatusCompleted:
			status.Completed++
		case domain.JobStatusDeadLettered:
			status.Failed++
		case domain.JobStatusActive:
			status.InProgress++
		default:
			status.Pending++
		}
	}

	status.State = deriveBatchState(status)
	return status, nil
}

func deriveBatchState(st *BatchStatus) BatchState {
	switch {
	case st.Total == 0:
		return BatchStatePending
	case st.Completed == st.Total:
		return BatchStateCompleted
	case st.Failed > 0 && st.Completed+st.Failed == st.Total:
		return BatchStateCompletedWithErrors
	case st.InProgress > 0 || st.Completed+st.Failed > 0:
		return BatchStateRunning
	default:
		return BatchStatePending
	}
}

// IsBatchSettled reports whether every member job reached a terminal state.
func (s *Service) IsBatchSettled(ctx context.Context, batchID string) (bool, *BatchStatus, error) {
	status, err := s.GetBatchStatus(ctx, batchID)
	if err != nil {
		return false, nil, err
	}
	settled := status.Total > 0 && status.Completed+status.Failed == status.Total
	return settled, status, nil
}

// GetQueueStats counts jobs by state across the whole queue.
func (s *Service) GetQueueStats(ctx context.Context) (*Stats, error) {
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	stats := &Stats{
		Pending:        counts[domain.JobStatusPending],
		Active:         counts[domain.JobStatusActive],
		RetryScheduled: counts[domain.JobStatusRetryScheduled],
		Completed:      counts[domain.JobStatusCompleted],
		DeadLettered:   counts[domain.JobStatusDeadLettered],
	}

	ctxDepth, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if ready, delayed, err := s.sched.Depths(ctxDepth); err == nil {
		stats.Ready = ready
		stats.Delayed = delayed
	}
	if paused, err := s.sched.IsPaused(ctxDepth); err == nil {
		stats.Paused = paused
	}
	return stats, nil
}
