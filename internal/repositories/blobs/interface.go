package blobs

import (
	"context"

	"github.com/notesync/engine/internal/models"
)

// Repository describes persistence operations for content blobs. Blob rows
// are keyed by (meeting id, content type, chunk index).
type Repository interface {
	// ReplaceForMeeting deletes every blob row for the meeting and inserts
	// the given set. Called inside the save transaction so a full save
	// always leaves a consistent blob set behind.
	ReplaceForMeeting(ctx context.Context, meetingID string, blobs []models.Blob) error

	// GetByMeeting returns all blob rows for a meeting, grouped by content
	// type in chunk order.
	GetByMeeting(ctx context.Context, meetingID string) ([]models.Blob, error)

	// GetByMeetingAndType returns the blob rows for one content kind, in
	// chunk order.
	GetByMeetingAndType(ctx context.Context, meetingID string, ct models.ContentType) ([]models.Blob, error)

	// Count returns the number of blob rows stored for a meeting.
	Count(ctx context.Context, meetingID string) (int, error)

	// DeleteByMeeting removes all blob rows for a meeting and reports how
	// many rows and bytes were freed.
	DeleteByMeeting(ctx context.Context, meetingID string) (rows int, freedBytes int64, err error)
}
