package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("job not found")

	// ErrDeadLetterNotFound is returned when a dead-letter id has no row.
	ErrDeadLetterNotFound = errors.New("dead letter job not found")
)

// JobRepository is the durable, authoritative store of sync jobs.
type JobRepository interface {
	// Insert persists a new job.
	Insert(ctx context.Context, job *domain.SyncJob) error

	// Get retrieves a job by id.
	Get(ctx context.Context, jobID string) (*domain.SyncJob, error)

	// Update persists mutable job fields (status, retry count, error,
	// availability).
	Update(ctx context.Context, job *domain.SyncJob) error

	// TransitionStatus atomically moves a job from one status to another.
	// Returns false when the job was not in the expected status, which lets
	// concurrent claimers lose races cleanly.
	TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) (bool, error)

	// NextDueCoordinator returns the oldest batch-coordinator job that is
	// runnable at now (pending or retry_scheduled, available). Returns
	// (nil, nil) when none is due.
	NextDueCoordinator(ctx context.Context, now time.Time) (*domain.SyncJob, error)

	// ListByBatch returns every job spawned from one batch, any state.
	ListByBatch(ctx context.Context, batchID string) ([]*domain.SyncJob, error)

	// CountByStatus returns job counts grouped by status.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// DeleteTerminalBefore purges completed and dead-lettered jobs last
	// updated before the cutoff. Returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DeadLetterFilter selects dead-letter entries for listing and bulk retry.
// Zero values match everything.
type DeadLetterFilter struct {
	Platform domain.Platform
	Category domain.ErrorCategory
	BatchID  string
	Status   domain.DeadLetterStatus
	Limit    int
}

// DeadLetterRepository stores permanently failed jobs pending remediation.
type DeadLetterRepository interface {
	// Insert persists a dead-letter entry.
	Insert(ctx context.Context, dlj *domain.DeadLetterJob) error

	// Get retrieves an entry by dlq id.
	Get(ctx context.Context, id string) (*domain.DeadLetterJob, error)

	// List returns entries matching the filter, most urgent first
	// (remediation priority, then failure time descending).
	List(ctx context.Context, f DeadLetterFilter) ([]*domain.DeadLetterJob, error)

	// MarkResolved closes an entry after a successful retry.
	MarkResolved(ctx context.Context, id string) error

	// DeleteOlderThan purges entries that failed before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SyncLogRepository is the append-only attempt log. Rows are never mutated
// after insert.
type SyncLogRepository interface {
	// Append writes one attempt record.
	Append(ctx context.Context, entry *domain.SyncLogEntry) error

	// ListByBatch returns log rows for a batch, oldest first.
	ListByBatch(ctx context.Context, batchID string) ([]*domain.SyncLogEntry, error)

	// ListByProduct returns log rows for a product on a platform.
	ListByProduct(ctx context.Context, productID string, platform domain.Platform) ([]*domain.SyncLogEntry, error)

	// CountOutcomesSince returns how many attempts succeeded and failed in
	// the observation window, for failure-rate reporting.
	CountOutcomesSince(ctx context.Context, since time.Time) (succeeded, failed int, err error)
}
