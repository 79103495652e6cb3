package outbox

import (
	"context"
	"time"

	"github.com/notesync/engine/internal/models"
)

// Stats summarizes the queue for observability.
type Stats struct {
	Pending    int
	Processing int
	Failed     int
	OldestAge  time.Duration
}

// Repository describes persistence operations for the durable sync queue.
// Entries are processed strictly in enqueue order and deleted on confirmed
// remote success.
type Repository interface {
	// Insert appends a new entry and returns its assigned id.
	Insert(ctx context.Context, e *models.OutboxEntry) (int64, error)

	// ListPending returns all pending entries in enqueue order.
	ListPending(ctx context.Context) ([]models.OutboxEntry, error)

	// GetByID returns a single entry. Returns common.ErrorNotFound if absent.
	GetByID(ctx context.Context, id int64) (*models.OutboxEntry, error)

	// UpdateStatus rewrites just the status column.
	UpdateStatus(ctx context.Context, id int64, status models.OutboxStatus) error

	// RecordFailure stores the outcome of a failed sync attempt: new status,
	// retry count, last error and the time before which the entry must not
	// be retried.
	RecordFailure(ctx context.Context, id int64, status models.OutboxStatus, retryCount int, lastError string, nextAttemptAt time.Time) error

	// Delete removes an entry after confirmed remote success.
	Delete(ctx context.Context, id int64) error

	// ResetProcessing flips entries stuck in processing back to pending.
	// Run at drain start to recover entries orphaned by a crash between
	// marking and completion.
	ResetProcessing(ctx context.Context) (int, error)

	// ResetFailed flips every failed entry back to pending with a zeroed
	// retry count. Returns how many entries were reset.
	ResetFailed(ctx context.Context) (int, error)

	// CancelPending removes pending entries for an entity, optionally
	// restricted to one operation. Returns how many entries were removed.
	CancelPending(ctx context.Context, entityID string, op *models.Operation) (int, error)

	// Stats reports queue counters and the age of the oldest entry.
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}
