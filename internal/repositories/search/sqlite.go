package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/notesync/engine/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) ReplaceForMeeting(ctx context.Context, meetingID string, terms []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM search_index WHERE meeting_id = ?`, meetingID); err != nil {
		return fmt.Errorf("failed to clear search terms: %w", err)
	}
	for _, term := range terms {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO search_index (term, meeting_id) VALUES (?, ?)`,
			strings.ToLower(term), meetingID)
		if err != nil {
			return fmt.Errorf("failed to insert search term: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) DeleteByMeeting(ctx context.Context, meetingID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM search_index WHERE meeting_id = ?`, meetingID)
	if err != nil {
		return fmt.Errorf("failed to delete search terms: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Search(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT meeting_id FROM search_index WHERE term LIKE ? ESCAPE '\' ORDER BY meeting_id`,
		pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search terms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SQLiteRepository) CountByMeeting(ctx context.Context, meetingID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_index WHERE meeting_id = ?`, meetingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count search terms: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
