package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vuive/marketsync/internal/core/domain"
)

// SyncLogRepo implements storage.SyncLogRepository using PostgreSQL. The log
// is append-only; rows are never updated.
type SyncLogRepo struct {
	db *DB
}

// NewSyncLogRepo creates a new PostgreSQL sync log repository.
func NewSyncLogRepo(db *DB) *SyncLogRepo {
	return &SyncLogRepo{db: db}
}

type syncLogRow struct {
	ID              string    `db:"id"`
	BatchID         string    `db:"batch_id"`
	JobID           string    `db:"job_id"`
	ProductID       string    `db:"product_id"`
	Platform        string    `db:"platform"`
	Status          string    `db:"status"`
	RequestPayload  []byte    `db:"request_payload"`
	ResponsePayload []byte    `db:"response_payload"`
	ErrorMessage    string    `db:"error_message"`
	ErrorCode       string    `db:"error_code"`
	Attempts        int       `db:"attempts"`
	MovedToDLQ      bool      `db:"moved_to_dlq"`
	SyncedAt        time.Time `db:"synced_at"`
}

func (row *syncLogRow) toDomain() (*domain.SyncLogEntry, error) {
	entry := &domain.SyncLogEntry{
		ID:           row.ID,
		BatchID:      row.BatchID,
		JobID:        row.JobID,
		ProductID:    row.ProductID,
		Platform:     domain.Platform(row.Platform),
		Status:       domain.SyncLogStatus(row.Status),
		ErrorMessage: row.ErrorMessage,
		ErrorCode:    row.ErrorCode,
		Attempts:     row.Attempts,
		MovedToDLQ:   row.MovedToDLQ,
		SyncedAt:     row.SyncedAt,
	}
	if len(row.RequestPayload) > 0 {
		if err := json.Unmarshal(row.RequestPayload, &entry.RequestPayload); err != nil {
			return nil, fmt.Errorf("failed to decode request payload: %w", err)
		}
	}
	if len(row.ResponsePayload) > 0 {
		if err := json.Unmarshal(row.ResponsePayload, &entry.ResponsePayload); err != nil {
			return nil, fmt.Errorf("failed to decode response payload: %w", err)
		}
	}
	return entry, nil
}

// Append writes one attempt record.
func (r *SyncLogRepo) Append(ctx context.Context, entry *domain.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	request, err := json.Marshal(entry.RequestPayload)
	if err != nil {
		return fmt.Errorf("failed to encode request payload: %w", err)
	}
	response, err := json.Marshal(entry.ResponsePayload)
	if err != nil {
		return fmt.Errorf("failed to encode response payload: %w", err)
	}

	query := `
		INSERT INTO sync_logs (
			id, batch_id, job_id, product_id, platform, status,
			request_payload, response_payload, error_message, error_code,
			attempts, moved_to_dlq, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.BatchID, entry.JobID, entry.ProductID,
		string(entry.Platform), string(entry.Status), request, response,
		entry.ErrorMessage, entry.ErrorCode, entry.Attempts, entry.MovedToDLQ,
		entry.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListByBatch returns log rows for a batch, oldest first.
func (r *SyncLogRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.SyncLogEntry, error) {
	query := `
		SELECT id, batch_id, job_id, product_id, platform, status,
		       request_payload, response_payload, error_message, error_code,
		       attempts, moved_to_dlq, synced_at
		FROM sync_logs
		WHERE batch_id = $1
		ORDER BY synced_at ASC
	`
	return r.list(ctx, query, batchID)
}

// ListByProduct returns log rows for a product, optionally scoped to a
// platform.
func (r *SyncLogRepo) ListByProduct(ctx context.Context, productID string, platform domain.Platform) ([]*domain.SyncLogEntry, error) {
	if platform == "" {
		query := `
			SELECT id, batch_id, job_id, product_id, platform, status,
			       request_payload, response_payload, error_message, error_code,
			       attempts, moved_to_dlq, synced_at
			FROM sync_logs
			WHERE product_id = $1
			ORDER BY synced_at ASC
		`
		return r.list(ctx, query, productID)
	}
	query := `
		SELECT id, batch_id, job_id, product_id, platform, status,
		       request_payload, response_payload, error_message, error_code,
		       attempts, moved_to_dlq, synced_at
		FROM sync_logs
		WHERE product_id = $1 AND platform = $2
		ORDER BY synced_at ASC
	`
	return r.list(ctx, query, productID, string(platform))
}

func (r *SyncLogRepo) list(ctx context.Context, query string, args ...interface{}) ([]*domain.SyncLogEntry, error) {
	var rows []syncLogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	out := make([]*domain.SyncLogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// CountOutcomesSince returns attempt outcomes in the observation window.
func (r *SyncLogRepo) CountOutcomesSince(ctx context.Context, since time.Time) (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'success') AS succeeded,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM sync_logs
		WHERE synced_at >= $1
	`
	var dest struct {
		Succeeded int `db:"succeeded"`
		Failed    int `db:"failed"`
	}
	if err := r.db.GetContext(ctx, &dest, query, since); err != nil {
		return 0, 0, fmt.Errorf("failed to count sync outcomes: %w", err)
	}
	return dest.Succeeded, dest.Failed, nil
}
