// Package queue implements the durable, priority-ordered sync job queue.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/sync/metrics"
	"github.com/vuive/marketsync/internal/sync/retry"
)

// SchedQueue is the hot scheduling queue jobs travel through between
// submission and claim. Implemented by Redis in production and by the
// in-memory queue in dev mode and tests.
type SchedQueue interface {
	// PushReady makes a job immediately claimable. Weight is a soft
	// ordering hint, not a strict total order.
	PushReady(ctx context.Context, jobID string, weight int) error

	// PushDelayed parks a job until availableAt.
	PushDelayed(ctx context.Context, jobID string, availableAt time.Time) error

	// PopReady blocks up to timeout for the next claimable job id.
	PopReady(ctx context.Context, timeout time.Duration) (string, bool, error)

	// MoveDue promotes due delayed jobs onto the ready list.
	MoveDue(ctx context.Context, now time.Time, batch int64) (int, error)

	// SetPaused halts or resumes claims; in-flight jobs are unaffected.
	SetPaused(ctx context.Context, paused bool) error

	// IsPaused reports whether claims are halted.
	IsPaused(ctx context.Context) (bool, error)

	// Depths returns ready and delayed counts.
	Depths(ctx context.Context) (ready, delayed int64, err error)
}

// Config holds queue tuning.
type Config struct {
	// StaggerDelay spaces out batch members so a batch does not burst the
	// external platform all at once.
	StaggerDelay time.Duration `yaml:"stagger_delay"`

	// SchedulerInterval is how often due delayed jobs are promoted.
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	// SchedulerBatch is the max delayed jobs promoted per tick.
	SchedulerBatch int64 `yaml:"scheduler_batch"`
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		StaggerDelay:      250 * time.Millisecond,
		SchedulerInterval: 500 * time.Millisecond,
		SchedulerBatch:    200,
	}
}

// Service coordinates the durable job store and the scheduling queue.
type Service struct {
	cfg    Config
	jobs   storage.JobRepository
	sched  SchedQueue
	policy *retry.Policy
	seq    atomic.Uint64
	log    *slog.Logger
}

// NewService creates a queue service.
func NewService(cfg Config, jobs storage.JobRepository, sched SchedQueue, policy *retry.Policy) *Service {
	s := &Service{
		cfg:    cfg,
		jobs:   jobs,
		sched:  sched,
		policy: policy,
		log:    slog.Default().With("component", "queue"),
	}
	// Seed the id sequence so ids stay unique across restarts.
	s.seq.Store(uint64(time.Now().UnixMilli()) << 8)
	return s
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	ProductID      string            `json:"product_id"`
	Platform       domain.Platform   `json:"platform"`
	Priority       domain.Priority   `json:"priority"`
	BatchID        string            `json:"batch_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	// AvailableAt defers execution when set in the future.
	AvailableAt time.Time `json:"available_at,omitempty"`
}

// AddSyncJob assigns an id and priority weight, binds the platform's retry
// policy as the job's execution budget, enqueues, and returns immediately.
func (s *Service) AddSyncJob(ctx context.Context, req SubmitRequest) (string, error) {
	if req.ProductID == "" {
		return "", fmt.Errorf("product id is required")
	}
	if !req.Platform.Valid() {
		return "", fmt.Errorf("unknown platform %q", req.Platform)
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}

	now := time.Now().UTC()
	availableAt := req.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}

	job := &domain.SyncJob{
		JobID:          domain.NewJobID(req.ProductID, req.Platform, req.BatchID, s.seq.Add(1)),
		Kind:           domain.JobKindSync,
		ProductID:      req.ProductID,
		Platform:       req.Platform,
		BatchID:        req.BatchID,
		OrganizationID: req.OrganizationID,
		Priority:       req.Priority,
		Weight:         req.Priority.Weight(),
		MaxAttempts:    s.policy.ConfigFor(req.Platform).MaxAttempts,
		Status:         domain.JobStatusPending,
		AvailableAt:    availableAt,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.jobs.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}
	if err := s.enqueue(ctx, job); err != nil {
		return "", err
	}

	metrics.JobsSubmitted.WithLabelValues(string(job.Platform), string(job.Priority)).Inc()
	s.log.Debug("Job submitted", "job_id", job.JobID, "platform", job.Platform, "priority", job.Priority)
	return job.JobID, nil
}

// AddBatchJobs creates one job per product sharing the batch id, staggered
// with a per-index delay, plus a coordinator job tracking batch completion.
func (s *Service) AddBatchJobs(ctx context.Context, batch domain.BatchSyncJob) ([]string, error) {
	if len(batch.ProductIDs) == 0 {
		return nil, fmt.Errorf("batch has no products")
	}
	if batch.BatchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	if !batch.Platform.Valid() {
		return nil, fmt.Errorf("unknown platform %q", batch.Platform)
	}

	now := time.Now().UTC()
	size := len(batch.ProductIDs)
	jobIDs := make([]string, 0, size)

	for i, productID := range batch.ProductIDs {
		jobID, err := s.AddSyncJob(ctx, SubmitRequest{
			ProductID:      productID,
			Platform:       batch.Platform,
			Priority:       domain.PriorityNormal,
			BatchID:        batch.BatchID,
			OrganizationID: batch.OrganizationID,
			AvailableAt:    now.Add(time.Duration(i) * s.cfg.StaggerDelay),
			Metadata: map[string]string{
				"batch_index": fmt.Sprintf("%d", i),
				"batch_size":  fmt.Sprintf("%d", size),
				"created_by":  batch.CreatedBy,
			},
		})
		if err != nil {
			return jobIDs, fmt.Errorf("failed to submit batch member %s: %w", productID, err)
		}
		jobIDs = append(jobIDs, jobID)
	}

	// Coordinator jobs are claimed by the batch worker lane, never by job
	// workers; they live only in the durable store.
	coordinator := &domain.SyncJob{
		JobID:          domain.NewJobID("batch", batch.Platform, batch.BatchID, s.seq.Add(1)),
		Kind:           domain.JobKindCoordinator,
		Platform:       batch.Platform,
		BatchID:        batch.BatchID,
		OrganizationID: batch.OrganizationID,
		Priority:       domain.PriorityLow,
		Weight:         domain.PriorityLow.Weight(),
		Status:         domain.JobStatusPending,
		AvailableAt:    now.Add(time.Duration(size) * s.cfg.StaggerDelay),
		Metadata:       map[string]string{"batch_size": fmt.Sprintf("%d", size)},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.jobs.Insert(ctx, coordinator); err != nil {
		return jobIDs, fmt.Errorf("failed to persist batch coordinator: %w", err)
	}

	s.log.Info("Batch submitted", "batch_id", batch.BatchID, "size", size, "platform", batch.Platform)
	return jobIDs, nil
}

func (s *Service) enqueue(ctx context.Context, job *domain.SyncJob) error {
	if job.AvailableAt.After(time.Now()) {
		if err := s.sched.PushDelayed(ctx, job.JobID, job.AvailableAt); err != nil {
			return fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
		return nil
	}
	if err := s.sched.PushReady(ctx, job.JobID, job.Weight); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim blocks up to timeout for the next runnable job and atomically marks
// it active. Returns found=false on timeout, pause, or a lost claim race.
func (s *Service) Claim(ctx context.Context, timeout time.Duration) (*domain.SyncJob, bool, error) {
	paused, err := s.sched.IsPaused(ctx)
	if err != nil {
		return nil, false, err
	}
	if paused {
		return nil, false, nil
	}

	jobID, found, err := s.sched.PopReady(ctx, timeout)
	if err != nil || !found {
		return nil, false, err
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err == storage.ErrJobNotFound {
		// Row purged between enqueue and claim; nothing to run.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	claimed, err := s.jobs.TransitionStatus(ctx, jobID, domain.JobStatusPending, domain.JobStatusActive)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		claimed, err = s.jobs.TransitionStatus(ctx, jobID, domain.JobStatusRetryScheduled, domain.JobStatusActive)
		if err != nil || !claimed {
			return nil, false, err
		}
	}

	job.Status = domain.JobStatusActive
	return job, true, nil
}

// ClaimCoordinator claims the next due batch-coordinator job, if any.
// Coordinators are polled from the durable store so the batch lane never
// competes with job workers for the hot queue.
func (s *Service) ClaimCoordinator(ctx context.Context) (*domain.SyncJob, bool, error) {
	paused, err := s.sched.IsPaused(ctx)
	if err != nil {
		return nil, false, err
	}
	if paused {
		return nil, false, nil
	}

	job, err := s.jobs.NextDueCoordinator(ctx, time.Now().UTC())
	if err != nil || job == nil {
		return nil, false, err
	}

	claimed, err := s.jobs.TransitionStatus(ctx, job.JobID, job.Status, domain.JobStatusActive)
	if err != nil || !claimed {
		return nil, false, err
	}
	job.Status = domain.JobStatusActive
	return job, true, nil
}

// Reschedule books a failed job for another attempt after delay.
func (s *Service) Reschedule(ctx context.Context, job *domain.SyncJob, delay time.Duration, lastError string) error {
	job.RetryCount++
	job.Status = domain.JobStatusRetryScheduled
	job.AvailableAt = time.Now().UTC().Add(delay)
	job.LastError = lastError

	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist reschedule: %w", err)
	}
	if err := s.sched.PushDelayed(ctx, job.JobID, job.AvailableAt); err != nil {
		return fmt.Errorf("failed to delay job: %w", err)
	}
	return nil
}

// Defer pushes a job back onto the delayed queue without consuming a retry
// attempt, so a later claim repeats its terminal handling.
func (s *Service) Defer(ctx context.Context, job *domain.SyncJob, delay time.Duration) error {
	job.Status = domain.JobStatusRetryScheduled
	job.AvailableAt = time.Now().UTC().Add(delay)
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist defer: %w", err)
	}
	if err := s.sched.PushDelayed(ctx, job.JobID, job.AvailableAt); err != nil {
		return fmt.Errorf("failed to delay job: %w", err)
	}
	return nil
}

// Requeue parks a job without consuming a retry attempt. Used by batch
// coordinators waiting on member convergence.
func (s *Service) Requeue(ctx context.Context, job *domain.SyncJob, delay time.Duration) error {
	job.Status = domain.JobStatusRetryScheduled
	job.AvailableAt = time.Now().UTC().Add(delay)
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist requeue: %w", err)
	}
	return nil
}

// Pause halts new claims. Already-enqueued jobs are preserved and in-flight
// jobs run to completion.
func (s *Service) Pause(ctx context.Context) error {
	s.log.Info("Queue paused")
	return s.sched.SetPaused(ctx, true)
}

// Resume re-enables claims.
func (s *Service) Resume(ctx context.Context) error {
	s.log.Info("Queue resumed")
	return s.sched.SetPaused(ctx, false)
}

// CleanupJobs purges terminal job records older than the retention window.
func (s *Service) CleanupJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	removed, err := s.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("Cleaned up terminal jobs", "removed", removed)
	}
	return removed, nil
}

// RunScheduler promotes due delayed jobs onto the ready list until ctx ends.
func (s *Service) RunScheduler(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			moved, err := s.sched.MoveDue(ctx, time.Now(), s.cfg.SchedulerBatch)
			if err != nil {
				s.log.Error("Failed to promote delayed jobs", "error", err)
				continue
			}
			if moved > 0 {
				s.log.Debug("Promoted delayed jobs", "count", moved)
			}
			if ready, delayed, err := s.sched.Depths(ctx); err == nil {
				metrics.QueueDepth.WithLabelValues("ready").Set(float64(ready))
				metrics.QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
			}
		}
	}
}
