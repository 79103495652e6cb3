package records

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/engine/internal/common"
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

func sampleMetadata(id string) *models.MeetingMetadata {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &models.MeetingMetadata{
		ID:             id,
		Title:          "weekly sync",
		Preview:        "agenda and notes",
		OccurredAt:     now,
		StakeholderIDs: []string{"s1", "s2"},
		CategoryIDs:    []string{"c1"},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		Tier:           models.TierHot,
		HasTranscript:  true,
		ImageCount:     2,
	}
}

func TestUpsert_InsertAndUpdate(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	md := sampleMetadata("m1")
	require.NoError(t, r.Upsert(ctx, md))

	got, err := r.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, md, got)

	md.Title = "renamed"
	md.Version = 2
	require.NoError(t, r.Upsert(ctx, md))

	got, err = r.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, int64(2), got.Version)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetAll_ExcludesDeletedByDefault(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, sampleMetadata("m1")))
	require.NoError(t, r.Upsert(ctx, sampleMetadata("m2")))
	require.NoError(t, r.SetDeleted(ctx, "m2", true, time.Now().UTC()))

	visible, err := r.GetAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "m1", visible[0].ID)

	all, err := r.GetAll(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetAll_OrdersByMeetingDateNewestFirst(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	old := sampleMetadata("old")
	old.OccurredAt = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.Upsert(ctx, old))
	newer := sampleMetadata("new")
	newer.OccurredAt = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.Upsert(ctx, newer))
	mid := sampleMetadata("mid")
	mid.OccurredAt = time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.Upsert(ctx, mid))

	all, err := r.GetAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "mid", all[1].ID)
	assert.Equal(t, "old", all[2].ID)
}

func TestGetByStakeholder(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	m1 := sampleMetadata("m1")
	m2 := sampleMetadata("m2")
	m2.StakeholderIDs = []string{"s9"}
	require.NoError(t, r.Upsert(ctx, m1))
	require.NoError(t, r.Upsert(ctx, m2))

	got, err := r.GetByStakeholder(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	// Rewriting associations replaces the old set.
	m1.StakeholderIDs = []string{"s9"}
	require.NoError(t, r.Upsert(ctx, m1))
	got, err = r.GetByStakeholder(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTierQueriesAndTouch(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		md := sampleMetadata(id)
		md.Tier = models.TierCold
		md.LastAccessedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, r.Upsert(ctx, md))
	}

	cold, err := r.GetByTier(ctx, models.TierCold)
	require.NoError(t, err)
	assert.Len(t, cold, 3)
	assert.Equal(t, "m1", cold[0].ID) // oldest access first

	oldest, err := r.OldestAccessed(ctx, models.TierCold, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, []string{"m1", "m2"}, []string{oldest[0].ID, oldest[1].ID})

	touchAt := base.Add(48 * time.Hour)
	require.NoError(t, r.TouchAccess(ctx, "m1", touchAt))
	got, err := r.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.TierHot, got.Tier)
	assert.Equal(t, touchAt, got.LastAccessedAt)
}

func TestSetDeleted_RoundTrip(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, sampleMetadata("m1")))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.SetDeleted(ctx, "m1", true, at))

	got, err := r.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, at, got.DeletedAt)

	deleted, err := r.ListDeleted(ctx)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	require.NoError(t, r.SetDeleted(ctx, "m1", false, at.Add(time.Hour)))
	got, err = r.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.True(t, got.DeletedAt.IsZero())
}

func TestSetDeleted_MissingRow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	err := r.SetDeleted(context.Background(), "missing", true, time.Now())
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_RemovesRowAndAssociations(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, sampleMetadata("m1")))
	require.NoError(t, r.Delete(ctx, "m1"))

	_, err := r.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	got, err := r.GetByStakeholder(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
