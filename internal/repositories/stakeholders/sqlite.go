package stakeholders

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

func (r *SQLiteRepository) Upsert(ctx context.Context, s *models.Stakeholder) error {
	query := `INSERT INTO stakeholders (id, name, role, organization, version, created_at, updated_at, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			organization = excluded.organization,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Name, s.Role, s.Organization, s.Version,
		dbx.TimeToMillis(s.CreatedAt), dbx.TimeToMillis(s.UpdatedAt),
		s.Deleted, dbx.TimeToMillis(s.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert stakeholder: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Stakeholder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, role, organization, version, created_at, updated_at, deleted, deleted_at
		 FROM stakeholders WHERE id = ?`, id)
	s, err := scanStakeholder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select stakeholder: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, includeDeleted bool) ([]models.Stakeholder, error) {
	query := `SELECT id, name, role, organization, version, created_at, updated_at, deleted, deleted_at
		FROM stakeholders`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select stakeholders: %w", err)
	}
	defer rows.Close()

	var result []models.Stakeholder
	for rows.Next() {
		s, err := scanStakeholder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error {
	deletedAt := int64(0)
	if deleted {
		deletedAt = dbx.TimeToMillis(at)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE stakeholders SET deleted = ?, deleted_at = ?, updated_at = ? WHERE id = ?`,
		deleted, deletedAt, dbx.TimeToMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to set deleted flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stakeholders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stakeholder: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStakeholder(row scanner) (*models.Stakeholder, error) {
	var s models.Stakeholder
	var createdAt, updatedAt, deletedAt int64
	err := row.Scan(&s.ID, &s.Name, &s.Role, &s.Organization, &s.Version,
		&createdAt, &updatedAt, &s.Deleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = dbx.TimeFromMillis(createdAt)
	s.UpdatedAt = dbx.TimeFromMillis(updatedAt)
	s.DeletedAt = dbx.TimeFromMillis(deletedAt)
	return &s, nil
}
