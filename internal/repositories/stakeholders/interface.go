package stakeholders

import (
	"context"
	"time"

	"github.com/notesync/engine/internal/models"
)

// Repository describes persistence operations for stakeholder records.
type Repository interface {
	// Upsert inserts or replaces a stakeholder by id.
	Upsert(ctx context.Context, s *models.Stakeholder) error

	// GetByID returns a stakeholder, including soft-deleted ones. Returns
	// common.ErrorNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.Stakeholder, error)

	// GetAll lists stakeholders by name. Soft-deleted rows are excluded
	// unless includeDeleted is set.
	GetAll(ctx context.Context, includeDeleted bool) ([]models.Stakeholder, error)

	// SetDeleted flips the soft-delete flag.
	SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error

	// Delete removes the row. Hard delete, used only by trash purge.
	Delete(ctx context.Context, id string) error
}
