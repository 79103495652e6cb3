package search

import "context"

// Repository maintains the derived term index over meeting titles and
// previews. The index is rebuilt inside the save transaction and dropped on
// hard purge, so it never outlives its record.
type Repository interface {
	// ReplaceForMeeting rewrites the term rows for a meeting.
	ReplaceForMeeting(ctx context.Context, meetingID string, terms []string) error

	// DeleteByMeeting removes all term rows for a meeting.
	DeleteByMeeting(ctx context.Context, meetingID string) error

	// Search returns the ids of meetings with at least one term matching the
	// given prefix.
	Search(ctx context.Context, prefix string) ([]string, error)

	// CountByMeeting returns the number of term rows stored for a meeting.
	CountByMeeting(ctx context.Context, meetingID string) (int, error)
}
