package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/outbox"
	"github.com/notesync/engine/internal/reconcile"
	outboxrepo "github.com/notesync/engine/internal/repositories/outbox"
	stakeholdersrepo "github.com/notesync/engine/internal/repositories/stakeholders"
	"github.com/notesync/engine/internal/storage"
)

func setupStakeholders(t *testing.T) (*StakeholderService, *clock) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logging.Discard()
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	queue := outbox.NewQueue(outboxrepo.NewSQLiteRepository(db), log, outbox.WithClock(clk.Now))

	svc := NewStakeholderService(db, stakeholdersrepo.NewSQLiteRepository(db), queue, log)
	svc.SetClock(clk.Now)
	return svc, clk
}

func TestStakeholderSave_RoundTrip(t *testing.T) {
	svc, clk := setupStakeholders(t)
	ctx := context.Background()

	sh := &models.Stakeholder{ID: "s1", Name: "Dana", Role: "PM", UpdatedAt: clk.Now()}
	res, err := svc.Save(ctx, sh, SaveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, int64(1), res.Stakeholder.Version)

	got, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Dana", got.Name)
	assert.Equal(t, "PM", got.Role)
}

func TestStakeholderSave_LastWriteWins(t *testing.T) {
	svc, clk := setupStakeholders(t)
	ctx := context.Background()

	t1 := clk.Now()
	_, err := svc.Save(ctx, &models.Stakeholder{ID: "s1", Name: "Dana", UpdatedAt: t1}, SaveOptions{})
	require.NoError(t, err)

	res, err := svc.Save(ctx, &models.Stakeholder{ID: "s1", Name: "Old Dana", UpdatedAt: t1.Add(-time.Hour)}, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, reconcile.RejectedOlder, res.Outcome)
	assert.Equal(t, "Dana", res.Stakeholder.Name)
}

func TestStakeholderDeleteAndRestore(t *testing.T) {
	svc, clk := setupStakeholders(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, &models.Stakeholder{ID: "s1", Name: "Dana", UpdatedAt: clk.Now()}, SaveOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Restore(ctx, "s1", false), common.ErrorNotDeleted)

	require.NoError(t, svc.SoftDelete(ctx, "s1", false))
	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, svc.Restore(ctx, "s1", false))
	all, err = svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStakeholderHardDelete(t *testing.T) {
	svc, clk := setupStakeholders(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, &models.Stakeholder{ID: "s1", Name: "Dana", UpdatedAt: clk.Now()}, SaveOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.HardDelete(ctx, "s1", false))
	_, err = svc.Get(ctx, "s1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
