package categories

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

func (r *SQLiteRepository) Upsert(ctx context.Context, c *models.Category) error {
	query := `INSERT INTO categories (id, name, color, version, created_at, updated_at, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Color, c.Version,
		dbx.TimeToMillis(c.CreatedAt), dbx.TimeToMillis(c.UpdatedAt),
		c.Deleted, dbx.TimeToMillis(c.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Category, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, color, version, created_at, updated_at, deleted, deleted_at
		 FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select category: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, includeDeleted bool) ([]models.Category, error) {
	query := `SELECT id, name, color, version, created_at, updated_at, deleted, deleted_at FROM categories`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select categories: %w", err)
	}
	defer rows.Close()

	var result []models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
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
		`UPDATE categories SET deleted = ?, deleted_at = ?, updated_at = ? WHERE id = ?`,
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
	_, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(row scanner) (*models.Category, error) {
	var c models.Category
	var createdAt, updatedAt, deletedAt int64
	err := row.Scan(&c.ID, &c.Name, &c.Color, &c.Version,
		&createdAt, &updatedAt, &c.Deleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = dbx.TimeFromMillis(createdAt)
	c.UpdatedAt = dbx.TimeFromMillis(updatedAt)
	c.DeletedAt = dbx.TimeFromMillis(deletedAt)
	return &c, nil
}
