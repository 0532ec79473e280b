package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
)

// DeadLetterRepo implements storage.DeadLetterRepository using PostgreSQL.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new PostgreSQL dead-letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

type deadLetterRow struct {
	ID             string    `db:"id"`
	OriginalJobID  string    `db:"original_job_id"`
	ProductID      string    `db:"product_id"`
	Platform       string    `db:"platform"`
	BatchID        string    `db:"batch_id"`
	FailedAt       time.Time `db:"failed_at"`
	FinalError     string    `db:"final_error"`
	ErrorCode      string    `db:"error_code"`
	TotalAttempts  int       `db:"total_attempts"`
	Classification []byte    `db:"error_classification"`
	OriginalJob    []byte    `db:"original_data"`
	FailureReason  string    `db:"failure_reason"`
	Priority       int       `db:"priority"`
	Status         string    `db:"status"`
}

func (row *deadLetterRow) toDomain() (*domain.DeadLetterJob, error) {
	dlj := &domain.DeadLetterJob{
		ID:            row.ID,
		OriginalJobID: row.OriginalJobID,
		ProductID:     row.ProductID,
		Platform:      domain.Platform(row.Platform),
		BatchID:       row.BatchID,
		FailedAt:      row.FailedAt,
		FinalError:    row.FinalError,
		ErrorCode:     row.ErrorCode,
		TotalAttempts: row.TotalAttempts,
		FailureReason: row.FailureReason,
		Priority:      row.Priority,
		Status:        domain.DeadLetterStatus(row.Status),
	}
	if err := json.Unmarshal(row.Classification, &dlj.Classification); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	if err := json.Unmarshal(row.OriginalJob, &dlj.OriginalJob); err != nil {
		return nil, fmt.Errorf("failed to decode original job: %w", err)
	}
	return dlj, nil
}

// Insert persists a dead-letter entry.
func (r *DeadLetterRepo) Insert(ctx context.Context, dlj *domain.DeadLetterJob) error {
	classification, err := json.Marshal(dlj.Classification)
	if err != nil {
		return fmt.Errorf("failed to encode classification: %w", err)
	}
	original, err := json.Marshal(dlj.OriginalJob)
	if err != nil {
		return fmt.Errorf("failed to encode original job: %w", err)
	}

	query := `
		INSERT INTO dead_letter_jobs (
			id, original_job_id, product_id, platform, batch_id, failed_at,
			final_error, error_code, total_attempts, error_classification,
			original_data, failure_reason, priority, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		dlj.ID, dlj.OriginalJobID, dlj.ProductID, string(dlj.Platform),
		dlj.BatchID, dlj.FailedAt, dlj.FinalError, dlj.ErrorCode,
		dlj.TotalAttempts, classification, original, dlj.FailureReason,
		dlj.Priority, string(dlj.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter job: %w", err)
	}
	return nil
}

// Get retrieves an entry by id.
func (r *DeadLetterRepo) Get(ctx context.Context, id string) (*domain.DeadLetterJob, error) {
	query := `
		SELECT id, original_job_id, product_id, platform, batch_id, failed_at,
		       final_error, error_code, total_attempts, error_classification,
		       original_data, failure_reason, priority, status
		FROM dead_letter_jobs
		WHERE id = $1
	`
	var row deadLetterRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter job: %w", err)
	}
	return row.toDomain()
}

// List returns entries matching the filter, most urgent first.
func (r *DeadLetterRepo) List(ctx context.Context, f storage.DeadLetterFilter) ([]*domain.DeadLetterJob, error) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}
	if f.Platform != "" {
		add("platform = ", string(f.Platform))
	}
	if f.Category != "" {
		add("error_classification->>'category' = ", string(f.Category))
	}
	if f.BatchID != "" {
		add("batch_id = ", f.BatchID)
	}
	if f.Status != "" {
		add("status = ", string(f.Status))
	}

	query := `
		SELECT id, original_job_id, product_id, platform, batch_id, failed_at,
		       final_error, error_code, total_attempts, error_classification,
		       original_data, failure_reason, priority, status
		FROM dead_letter_jobs
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority ASC, failed_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	var rows []deadLetterRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}

	out := make([]*domain.DeadLetterJob, 0, len(rows))
	for i := range rows {
		dlj, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, dlj)
	}
	return out, nil
}

// MarkResolved closes an entry after a successful retry.
func (r *DeadLetterRepo) MarkResolved(ctx context.Context, id string) error {
	query := `UPDATE dead_letter_jobs SET status = 'resolved' WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDeadLetterNotFound
	}
	return nil
}

// DeleteOlderThan purges entries that failed before the cutoff.
func (r *DeadLetterRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM dead_letter_jobs WHERE failed_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup dead letter jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
