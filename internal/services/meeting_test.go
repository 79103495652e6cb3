package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/engine/internal/codec"
	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/outbox"
	"github.com/notesync/engine/internal/reconcile"
	blobsrepo "github.com/notesync/engine/internal/repositories/blobs"
	outboxrepo "github.com/notesync/engine/internal/repositories/outbox"
	recordsrepo "github.com/notesync/engine/internal/repositories/records"
	searchrepo "github.com/notesync/engine/internal/repositories/search"
	"github.com/notesync/engine/internal/storage"
	"github.com/notesync/engine/internal/tiering"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db      *sql.DB
	svc     *MeetingService
	queue   *outbox.Queue
	records recordsrepo.Repository
	blobs   blobsrepo.Repository
	outbox  outboxrepo.Repository
	clock   *clock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logging.Discard()
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	obRepo := outboxrepo.NewSQLiteRepository(db)
	queue := outbox.NewQueue(obRepo, log, outbox.WithClock(clk.Now))

	svc := NewMeetingService(db, codec.New(0, 0),
		recordsrepo.NewSQLiteRepository(db),
		blobsrepo.NewSQLiteRepository(db),
		searchrepo.NewSQLiteRepository(db),
		queue, log)
	svc.SetClock(clk.Now)

	return &fixture{
		db:      db,
		svc:     svc,
		queue:   queue,
		records: recordsrepo.NewSQLiteRepository(db),
		blobs:   blobsrepo.NewSQLiteRepository(db),
		outbox:  obRepo,
		clock:   clk,
	}
}

func meeting(id string, updatedAt time.Time) *models.Meeting {
	return &models.Meeting{
		ID:             id,
		Title:          "Planning session",
		OccurredAt:     updatedAt,
		UpdatedAt:      updatedAt,
		StakeholderIDs: []string{"s1"},
		Transcript:     "full transcript text",
		Notes:          "decisions",
	}
}

func TestSave_RequiresID(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Save(context.Background(), &models.Meeting{}, SaveOptions{})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = f.svc.Save(context.Background(), nil, SaveOptions{})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestSave_CreateThenGetRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m := meeting("m1", f.clock.Now())
	res, err := f.svc.Save(ctx, m, SaveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, int64(1), res.Meeting.Version)
	assert.Equal(t, models.TierHot, res.Meeting.Tier)

	got, err := f.svc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "full transcript text", got.Transcript)
	assert.Equal(t, "decisions", got.Notes)
	assert.Equal(t, int64(1), got.Version)
}

func TestSave_LastWriteWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t1 := f.clock.Now()
	t0 := t1.Add(-time.Hour)

	_, err := f.svc.Save(ctx, meeting("m1", t1), SaveOptions{})
	require.NoError(t, err)

	stale := meeting("m1", t0)
	stale.Title = "stale title"
	res, err := f.svc.Save(ctx, stale, SaveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, reconcile.RejectedOlder, res.Outcome)
	assert.Equal(t, "Planning session", res.Meeting.Title)

	md, err := f.svc.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, t1, md.UpdatedAt)
	assert.Equal(t, int64(1), md.Version, "rejected save must not bump version")
}

func TestSave_VersionMonotonicity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		m := meeting("m1", f.clock.Now())
		res, err := f.svc.Save(ctx, m, SaveOptions{})
		require.NoError(t, err)
		require.True(t, res.Accepted())
		assert.Equal(t, int64(i), res.Meeting.Version)
		f.clock.Advance(time.Minute)
	}
}

func TestSave_DeleteWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t1 := f.clock.Now()
	_, err := f.svc.Save(ctx, meeting("m1", t1), SaveOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.SoftDelete(ctx, "m1", false))

	// An equal-or-older non-delete save cannot resurrect the tombstone.
	res, err := f.svc.Save(ctx, meeting("m1", t1), SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, reconcile.RejectedTombstone, res.Outcome)

	md, err := f.svc.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, md.Deleted)

	// A strictly newer save un-deletes.
	f.clock.Advance(time.Hour)
	res, err = f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Accepted())

	md, err = f.svc.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, md.Deleted)
}

func TestSave_MirrorsIntoOutbox(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{QueueSync: true})
	require.NoError(t, err)
	assert.True(t, res.Queued)

	pending, err := f.outbox.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OperationCreate, pending[0].Operation)
	assert.Equal(t, "m1", pending[0].EntityID)
	assert.NotEmpty(t, pending[0].IdempotencyKey)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{QueueSync: true})
	require.NoError(t, err)

	pending, err = f.outbox.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.OperationUpdate, pending[1].Operation)
}

func TestSave_WithoutQueueSyncLeavesOutboxEmpty(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{})
	require.NoError(t, err)

	pending, err := f.outbox.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGet_RefreshesRecency(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{})
	require.NoError(t, err)

	// Age the record, then demote it.
	require.NoError(t, f.records.UpdateTier(ctx, "m1", models.TierCold))

	f.clock.Advance(time.Hour)
	_, err = f.svc.Get(ctx, "m1")
	require.NoError(t, err)

	md, err := f.svc.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.TierHot, md.Tier)
	assert.Equal(t, f.clock.Now(), md.LastAccessedAt)
}

func TestSearch_FindsByTitlePrefix(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m := meeting("m1", f.clock.Now())
	m.Title = "Budget review"
	_, err := f.svc.Save(ctx, m, SaveOptions{})
	require.NoError(t, err)

	got, err := f.svc.Search(ctx, "budg")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	// Soft-deleted records drop out of search results.
	require.NoError(t, f.svc.SoftDelete(ctx, "m1", false))
	got, err = f.svc.Search(ctx, "budg")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRestore_OnlyWorksOnTombstones(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{})
	require.NoError(t, err)

	err = f.svc.Restore(ctx, "m1", false)
	assert.ErrorIs(t, err, common.ErrorNotDeleted)

	require.NoError(t, f.svc.SoftDelete(ctx, "m1", false))
	require.NoError(t, f.svc.Restore(ctx, "m1", false))

	md, err := f.svc.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, md.Deleted)
	assert.Equal(t, models.TierHot, md.Tier)
}

func TestHardDelete_RemovesEverything(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{QueueSync: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.HardDelete(ctx, "m1", false))

	_, err = f.svc.GetMetadata(ctx, "m1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	has, err := f.svc.HasBlobs(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, has)

	// The queued CREATE became moot and was cancelled.
	pending, err := f.outbox.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// lyingRecords delegates to the real repository but misreports the stored
// version, simulating a backend that acknowledged a write it lost.
type lyingRecords struct {
	recordsrepo.Repository
}

func (l *lyingRecords) GetByID(ctx context.Context, id string) (*models.MeetingMetadata, error) {
	md, err := l.Repository.GetByID(ctx, id)
	if err != nil {
		return md, err
	}
	md.Version++
	return md, nil
}

func TestSave_SurfacesVerificationFault(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.svc.records = &lyingRecords{Repository: f.records}

	_, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{})
	var verr *common.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "m1", verr.RecordID)
	assert.Equal(t, int64(1), verr.WantVersion)
	assert.Equal(t, int64(2), verr.FoundVersion)
}

func TestSaveAll_CollectsPerItemErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	items := []*models.Meeting{
		meeting("m1", f.clock.Now()),
		{}, // missing id
		meeting("m3", f.clock.Now()),
	}
	results, errs := f.svc.SaveAll(ctx, items, SaveOptions{})
	assert.Len(t, results, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, common.ErrorValidation)

	_, err := f.svc.GetMetadata(ctx, "m3")
	require.NoError(t, err, "an earlier failure must not abort the batch")
}

func TestGetByStakeholder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m1 := meeting("m1", f.clock.Now())
	m2 := meeting("m2", f.clock.Now())
	m2.StakeholderIDs = []string{"s2"}
	_, err := f.svc.Save(ctx, m1, SaveOptions{})
	require.NoError(t, err)
	_, err = f.svc.Save(ctx, m2, SaveOptions{})
	require.NoError(t, err)

	got, err := f.svc.GetByStakeholder(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}

// Mirrors the create/evict/read flow: a large transcript is chunked on save,
// evicted once the record goes cold, and the metadata keeps answering reads
// with truthful presence flags.
func TestScenario_CreateEvictReadBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m := meeting("m1", f.clock.Now())
	m.Transcript = strings.Repeat("spoken words ", 16000) // ~200 KB
	_, err := f.svc.Save(ctx, m, SaveOptions{})
	require.NoError(t, err)

	has, err := f.svc.HasBlobs(ctx, "m1")
	require.NoError(t, err)
	require.True(t, has)

	log := logging.Discard()
	engine := tiering.NewEngine(f.db,
		recordsrepo.NewSQLiteRepository(f.db),
		blobsrepo.NewSQLiteRepository(f.db),
		searchrepo.NewSQLiteRepository(f.db),
		log, tiering.Config{HotDays: 7, WarmDays: 30})

	// Age the record past the warm boundary, then sweep.
	f.clock.Advance(40 * 24 * time.Hour)
	engine.SetClock(f.clock.Now)
	_, err = engine.Retier(ctx)
	require.NoError(t, err)
	res, err := engine.EvictCold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EvictedCount)
	assert.Greater(t, res.FreedBytes, int64(100_000))

	has, err = f.svc.HasBlobs(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, has)

	md, err := f.svc.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, md.HasTranscript, "metadata still advertises the transcript")

	got, err := f.svc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got.Transcript, "content itself is gone until a future full save")
}

// Outbox backoff scenario: five straight failures park the entry as failed;
// an explicit reset re-arms it.
func TestScenario_OutboxExhaustionAndReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, meeting("m1", f.clock.Now()), SaveOptions{QueueSync: true})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.queue.Drain(ctx, func(ctx context.Context, e *models.OutboxEntry) error {
			return assert.AnError
		})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Pending)

	n, err := f.queue.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.queue.Drain(ctx, func(ctx context.Context, e *models.OutboxEntry) error {
		return nil
	})
	require.NoError(t, err)

	stats, err = f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Failed)
}
