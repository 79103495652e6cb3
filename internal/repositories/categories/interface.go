package categories

import (
	"context"
	"time"

	"github.com/notesync/engine/internal/models"
)

// Repository describes persistence operations for category records.
type Repository interface {
	// Upsert inserts or replaces a category by id.
	Upsert(ctx context.Context, c *models.Category) error

	// GetByID returns a category, including soft-deleted ones. Returns
	// common.ErrorNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.Category, error)

	// GetAll lists categories by name. Soft-deleted rows are excluded
	// unless includeDeleted is set.
	GetAll(ctx context.Context, includeDeleted bool) ([]models.Category, error)

	// SetDeleted flips the soft-delete flag.
	SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error

	// Delete removes the row. Hard delete, used only by trash purge.
	Delete(ctx context.Context, id string) error
}
