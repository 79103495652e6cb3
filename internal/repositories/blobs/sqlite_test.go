package blobs

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/storage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleBlobs(meetingID string) []models.Blob {
	return []models.Blob{
		{MeetingID: meetingID, ContentType: models.ContentTranscript, ChunkIndex: 0, ChunkCount: 2, Text: "part one ", SizeBytes: 9},
		{MeetingID: meetingID, ContentType: models.ContentTranscript, ChunkIndex: 1, ChunkCount: 2, Text: "part two", SizeBytes: 8},
		{MeetingID: meetingID, ContentType: models.ContentNotes, ChunkIndex: 0, ChunkCount: 1, Text: "notes", SizeBytes: 5},
	}
}

func TestReplaceAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.ReplaceForMeeting(ctx, "m1", sampleBlobs("m1")))

	got, err := r.GetByMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	transcript, err := r.GetByMeetingAndType(ctx, "m1", models.ContentTranscript)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, 0, transcript[0].ChunkIndex)
	assert.Equal(t, 1, transcript[1].ChunkIndex)

	// Replace drops the previous set entirely.
	require.NoError(t, r.ReplaceForMeeting(ctx, "m1", sampleBlobs("m1")[2:]))
	got, err = r.GetByMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCount(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	n, err := r.Count(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.ReplaceForMeeting(ctx, "m1", sampleBlobs("m1")))
	n, err = r.Count(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteByMeeting_ReportsFreedBytes(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.ReplaceForMeeting(ctx, "m1", sampleBlobs("m1")))

	rows, freed, err := r.DeleteByMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, rows)
	assert.Equal(t, int64(22), freed)

	// Idempotent on an already-empty meeting.
	rows, freed, err = r.DeleteByMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.Zero(t, freed)
}
