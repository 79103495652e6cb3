package blobs

import (
	"context"
	"fmt"

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

func (r *SQLiteRepository) ReplaceForMeeting(ctx context.Context, meetingID string, blobs []models.Blob) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM content_blobs WHERE meeting_id = ?`, meetingID); err != nil {
		return fmt.Errorf("failed to clear blobs: %w", err)
	}
	for _, b := range blobs {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO content_blobs (meeting_id, content_type, chunk_index, chunk_count, text, size_bytes)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			b.MeetingID, string(b.ContentType), b.ChunkIndex, b.ChunkCount, b.Text, b.SizeBytes)
		if err != nil {
			return fmt.Errorf("failed to insert blob: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetByMeeting(ctx context.Context, meetingID string) ([]models.Blob, error) {
	query := `SELECT meeting_id, content_type, chunk_index, chunk_count, text, size_bytes
		FROM content_blobs WHERE meeting_id = ? ORDER BY content_type, chunk_index`
	return r.list(ctx, query, meetingID)
}

func (r *SQLiteRepository) GetByMeetingAndType(ctx context.Context, meetingID string, ct models.ContentType) ([]models.Blob, error) {
	query := `SELECT meeting_id, content_type, chunk_index, chunk_count, text, size_bytes
		FROM content_blobs WHERE meeting_id = ? AND content_type = ? ORDER BY chunk_index`
	return r.list(ctx, query, meetingID, string(ct))
}

func (r *SQLiteRepository) Count(ctx context.Context, meetingID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_blobs WHERE meeting_id = ?`, meetingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count blobs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) DeleteByMeeting(ctx context.Context, meetingID string) (int, int64, error) {
	var rows int
	var freed int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM content_blobs WHERE meeting_id = ?`,
		meetingID).Scan(&rows, &freed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to measure blobs: %w", err)
	}
	if rows == 0 {
		return 0, 0, nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM content_blobs WHERE meeting_id = ?`, meetingID); err != nil {
		return 0, 0, fmt.Errorf("failed to delete blobs: %w", err)
	}
	return rows, freed, nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Blob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select blobs: %w", err)
	}
	defer rows.Close()

	var result []models.Blob
	for rows.Next() {
		var b models.Blob
		var ct string
		if err := rows.Scan(&b.MeetingID, &ct, &b.ChunkIndex, &b.ChunkCount, &b.Text, &b.SizeBytes); err != nil {
			return nil, err
		}
		b.ContentType = models.ContentType(ct)
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
