package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	JobID          string    `db:"job_id"`
	Kind           string    `db:"kind"`
	ProductID      string    `db:"product_id"`
	Platform       string    `db:"platform"`
	BatchID        string    `db:"batch_id"`
	OrganizationID string    `db:"organization_id"`
	Priority       string    `db:"priority"`
	Weight         int       `db:"weight"`
	RetryCount     int       `db:"retry_count"`
	MaxAttempts    int       `db:"max_attempts"`
	Status         string    `db:"status"`
	AvailableAt    time.Time `db:"available_at"`
	Metadata       []byte    `db:"metadata"`
	LastError      string    `db:"last_error"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row *jobRow) toDomain() (*domain.SyncJob, error) {
	job := &domain.SyncJob{
		JobID:          row.JobID,
		Kind:           domain.JobKind(row.Kind),
		ProductID:      row.ProductID,
		Platform:       domain.Platform(row.Platform),
		BatchID:        row.BatchID,
		OrganizationID: row.OrganizationID,
		Priority:       domain.Priority(row.Priority),
		Weight:         row.Weight,
		RetryCount:     row.RetryCount,
		MaxAttempts:    row.MaxAttempts,
		Status:         domain.JobStatus(row.Status),
		AvailableAt:    row.AvailableAt,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	return job, nil
}

// Insert persists a new job.
func (r *JobRepo) Insert(ctx context.Context, job *domain.SyncJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	query := `
		INSERT INTO sync_jobs (
			job_id, kind, product_id, platform, batch_id, organization_id,
			priority, weight, retry_count, max_attempts, status, available_at,
			metadata, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
	`
	_, err = r.db.ExecContext(ctx, query,
		job.JobID, string(job.Kind), job.ProductID, string(job.Platform),
		job.BatchID, job.OrganizationID, string(job.Priority), job.Weight,
		job.RetryCount, job.MaxAttempts, string(job.Status), job.AvailableAt,
		metadata, job.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by id.
func (r *JobRepo) Get(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	query := `
		SELECT job_id, kind, product_id, platform, batch_id, organization_id,
		       priority, weight, retry_count, max_attempts, status, available_at,
		       metadata, last_error, created_at, updated_at
		FROM sync_jobs
		WHERE job_id = $1
	`
	var row jobRow
	err := r.db.GetContext(ctx, &row, query, jobID)
	if err == sql.ErrNoRows {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// Update persists mutable job fields.
func (r *JobRepo) Update(ctx context.Context, job *domain.SyncJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	query := `
		UPDATE sync_jobs
		SET status = $2, retry_count = $3, available_at = $4, last_error = $5,
		    metadata = $6, updated_at = NOW()
		WHERE job_id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		job.JobID, string(job.Status), job.RetryCount, job.AvailableAt,
		job.LastError, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// TransitionStatus atomically moves a job between statuses.
func (r *JobRepo) TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = $3, updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, jobID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("failed to transition job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// NextDueCoordinator returns the oldest runnable batch-coordinator job.
func (r *JobRepo) NextDueCoordinator(ctx context.Context, now time.Time) (*domain.SyncJob, error) {
	query := `
		SELECT job_id, kind, product_id, platform, batch_id, organization_id,
		       priority, weight, retry_count, max_attempts, status, available_at,
		       metadata, last_error, created_at, updated_at
		FROM sync_jobs
		WHERE kind = 'batch_coordinator'
		  AND status IN ('pending', 'retry_scheduled')
		  AND available_at <= $1
		ORDER BY available_at ASC
		LIMIT 1
	`
	var row jobRow
	err := r.db.GetContext(ctx, &row, query, now)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get due coordinator: %w", err)
	}
	return row.toDomain()
}

// ListByBatch returns every job sharing a batch id.
func (r *JobRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.SyncJob, error) {
	query := `
		SELECT job_id, kind, product_id, platform, batch_id, organization_id,
		       priority, weight, retry_count, max_attempts, status, available_at,
		       metadata, last_error, created_at, updated_at
		FROM sync_jobs
		WHERE batch_id = $1
		ORDER BY job_id ASC
	`
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}

	jobs := make([]*domain.SyncJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// CountByStatus returns job counts grouped by status.
func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM sync_jobs GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	out := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		out[domain.JobStatus(row.Status)] = row.Count
	}
	return out, nil
}

// DeleteTerminalBefore purges terminal jobs past retention.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM sync_jobs
		WHERE status IN ('completed', 'dead_lettered') AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
