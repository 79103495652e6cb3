package records

import (
	"context"
	"time"

	"github.com/notesync/engine/internal/models"
)

// Repository describes persistence operations for meeting metadata rows and
// the stakeholder association index. Implementations are backed by the local
// SQLite database.
type Repository interface {
	// Upsert inserts or replaces the metadata row for a meeting and rewrites
	// its stakeholder association rows.
	Upsert(ctx context.Context, md *models.MeetingMetadata) error

	// GetByID returns the metadata row, including soft-deleted ones.
	// Returns common.ErrorNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.MeetingMetadata, error)

	// GetAll lists metadata ordered by occurredAt descending. Soft-deleted
	// rows are excluded unless includeDeleted is set.
	GetAll(ctx context.Context, includeDeleted bool) ([]models.MeetingMetadata, error)

	// GetByStakeholder lists non-deleted meetings referencing a stakeholder,
	// ordered by occurredAt descending.
	GetByStakeholder(ctx context.Context, stakeholderID string) ([]models.MeetingMetadata, error)

	// GetByTier lists non-deleted meetings currently labeled with tier.
	GetByTier(ctx context.Context, tier models.Tier) ([]models.MeetingMetadata, error)

	// OldestAccessed lists the n least recently accessed non-deleted meetings
	// of the given tier, oldest first.
	OldestAccessed(ctx context.Context, tier models.Tier, n int) ([]models.MeetingMetadata, error)

	// UpdateTier rewrites the stored tier label only.
	UpdateTier(ctx context.Context, id string, tier models.Tier) error

	// TouchAccess refreshes lastAccessedAt and resets the tier to hot.
	TouchAccess(ctx context.Context, id string, at time.Time) error

	// SetDeleted flips the soft-delete flag. Restoring clears deletedAt.
	SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error

	// ListDeleted returns all soft-deleted rows, most recently deleted first.
	ListDeleted(ctx context.Context) ([]models.MeetingMetadata, error)

	// Delete removes the metadata row and its association rows. Hard delete,
	// used only by trash purge.
	Delete(ctx context.Context, id string) error
}
