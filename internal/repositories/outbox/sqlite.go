package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/dbx"
	"github.com/notesync/engine/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, entity_type, entity_id, operation, payload, status,
	enqueued_at, idempotency_key, retry_count, next_attempt_at, last_error`

func (r *SQLiteRepository) Insert(ctx context.Context, e *models.OutboxEntry) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO outbox (entity_type, entity_id, operation, payload, status,
			enqueued_at, idempotency_key, retry_count, next_attempt_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.EntityType), e.EntityID, string(e.Operation), []byte(e.Payload), string(e.Status),
		dbx.TimeToMillis(e.EnqueuedAt), e.IdempotencyKey, e.RetryCount,
		dbx.TimeToMillis(e.NextAttemptAt), e.LastError)
	if err != nil {
		return 0, fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox entry id: %w", err)
	}
	e.ID = id
	return id, nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]models.OutboxEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM outbox WHERE status = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, string(models.OutboxPending))
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entries: %w", err)
	}
	defer rows.Close()

	var result []models.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.OutboxEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM outbox WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id int64, status models.OutboxStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update outbox status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, id int64, status models.OutboxStatus, retryCount int, lastError string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, retry_count = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		string(status), retryCount, lastError, dbx.TimeToMillis(nextAttemptAt), id)
	if err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetProcessing(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE status = ?`,
		string(models.OutboxPending), string(models.OutboxProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *SQLiteRepository) ResetFailed(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, retry_count = 0, next_attempt_at = 0, last_error = '' WHERE status = ?`,
		string(models.OutboxPending), string(models.OutboxFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *SQLiteRepository) CancelPending(ctx context.Context, entityID string, op *models.Operation) (int, error) {
	query := `DELETE FROM outbox WHERE status = ? AND entity_id = ?`
	args := []any{string(models.OutboxPending), entityID}
	if op != nil {
		query += ` AND operation = ?`
		args = append(args, string(*op))
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *SQLiteRepository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch models.OutboxStatus(status) {
		case models.OutboxPending:
			stats.Pending = n
		case models.OutboxProcessing:
			stats.Processing = n
		case models.OutboxFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullInt64
	err = r.db.QueryRowContext(ctx, `SELECT MIN(enqueued_at) FROM outbox`).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to read oldest outbox entry: %w", err)
	}
	if oldest.Valid && oldest.Int64 > 0 {
		stats.OldestAge = now.Sub(dbx.TimeFromMillis(oldest.Int64))
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.OutboxEntry, error) {
	var (
		e                                models.OutboxEntry
		entityType, operation, status    string
		enqueuedAt, nextAttemptAt        int64
		payload                          []byte
	)
	err := row.Scan(&e.ID, &entityType, &e.EntityID, &operation, &payload, &status,
		&enqueuedAt, &e.IdempotencyKey, &e.RetryCount, &nextAttemptAt, &e.LastError)
	if err != nil {
		return nil, err
	}
	e.EntityType = models.EntityType(entityType)
	e.Operation = models.Operation(operation)
	e.Status = models.OutboxStatus(status)
	e.Payload = payload
	e.EnqueuedAt = dbx.TimeFromMillis(enqueuedAt)
	e.NextAttemptAt = dbx.TimeFromMillis(nextAttemptAt)
	return &e, nil
}
