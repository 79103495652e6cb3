// Package tiering classifies records by recency into hot/warm/cold, evicts
// heavy blob content under storage pressure, and manages the soft-delete
// trash window. It only ever removes blobs, never metadata, except during
// trash purge.
package tiering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/dbx"
	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/repositories/blobs"
	"github.com/notesync/engine/internal/repositories/records"
	"github.com/notesync/engine/internal/repositories/search"
)

const (
	DefaultHotDays       = 7
	DefaultWarmDays      = 30
	DefaultRetentionDays = 60

	// DefaultWarmEvictBatch is how many of the oldest warm records lose
	// their blobs per pass under critical pressure.
	DefaultWarmEvictBatch = 10
)

// StorageEstimate is the host's view of local storage consumption.
type StorageEstimate struct {
	UsedBytes  int64
	QuotaBytes int64
}

// StorageEstimator reports current storage usage. Only used to decide when
// eviction runs.
type StorageEstimator interface {
	Estimate(ctx context.Context) (StorageEstimate, error)
}

// PersistenceRequester asks the host environment not to reclaim our storage
// unsolicited. Best effort; a refusal is non-fatal.
type PersistenceRequester interface {
	RequestPersistence(ctx context.Context) (bool, error)
}

// Config holds the tiering thresholds.
type Config struct {
	HotDays             int
	WarmDays            int
	WarningThresholdMB  int64
	CriticalThresholdMB int64
	WarmEvictBatch      int
	RetentionDays       int
}

// Engine runs the tiering, eviction and trash sweeps.
type Engine struct {
	db      *sql.DB
	records records.Repository
	blobs   blobs.Repository
	search  search.Repository
	log     logging.Logger
	cfg     Config
	now     func() time.Time
}

// NewEngine builds a tiering engine over the store. Zero config fields fall
// back to the package defaults.
func NewEngine(db *sql.DB, recordsRepo records.Repository, blobsRepo blobs.Repository, searchRepo search.Repository, log logging.Logger, cfg Config) *Engine {
	if cfg.HotDays <= 0 {
		cfg.HotDays = DefaultHotDays
	}
	if cfg.WarmDays <= 0 {
		cfg.WarmDays = DefaultWarmDays
	}
	if cfg.WarmEvictBatch <= 0 {
		cfg.WarmEvictBatch = DefaultWarmEvictBatch
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &Engine{
		db:      db,
		records: recordsRepo,
		blobs:   blobsRepo,
		search:  searchRepo,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// TierFor computes the tier label for a record last accessed at the given
// time. A zero lastAccessedAt is treated as infinitely old.
func TierFor(lastAccessedAt, now time.Time, hotDays, warmDays int) models.Tier {
	if lastAccessedAt.IsZero() {
		return models.TierCold
	}
	age := now.Sub(lastAccessedAt)
	switch {
	case age <= time.Duration(hotDays)*24*time.Hour:
		return models.TierHot
	case age <= time.Duration(warmDays)*24*time.Hour:
		return models.TierWarm
	default:
		return models.TierCold
	}
}

// Retier recomputes every record's tier from its lastAccessedAt and updates
// only the rows whose stored label differs. Returns how many rows changed.
func (e *Engine) Retier(ctx context.Context) (int, error) {
	all, err := e.records.GetAll(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("listing records for retier: %w", err)
	}

	now := e.now().UTC()
	updated := 0
	for _, md := range all {
		tier := TierFor(md.LastAccessedAt, now, e.cfg.HotDays, e.cfg.WarmDays)
		if tier == md.Tier {
			continue
		}
		if err := e.records.UpdateTier(ctx, md.ID, tier); err != nil {
			e.log.Error(ctx, "failed to update tier", "id", md.ID, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

// EvictionResult reports an eviction sweep for observability.
type EvictionResult struct {
	EvictedCount int
	FreedBytes   int64
}

// EvictCold deletes the blobs of every cold record. Metadata is untouched,
// so list views keep working; only heavy content needs a refetch after a
// future access. Per-record failures are logged and do not abort the sweep.
// Re-running over already evicted records is a no-op.
func (e *Engine) EvictCold(ctx context.Context) (*EvictionResult, error) {
	cold, err := e.records.GetByTier(ctx, models.TierCold)
	if err != nil {
		return nil, fmt.Errorf("listing cold records: %w", err)
	}

	res := &EvictionResult{}
	for _, md := range cold {
		rows, freed, err := e.blobs.DeleteByMeeting(ctx, md.ID)
		if err != nil {
			e.log.Error(ctx, "failed to evict blobs", "id", md.ID, "error", err)
			continue
		}
		if rows == 0 {
			continue
		}
		res.EvictedCount++
		res.FreedBytes += freed
	}
	return res, nil
}

// PressureResult reports what a ManageStorage pass did.
type PressureResult struct {
	UsedMB        int64
	Retiered      int
	Cold          EvictionResult
	WarmEvicted   int
	WarmFreed     int64
	CriticalPhase bool
}

// ManageStorage is the best-effort pressure-relief loop. Below the warning
// threshold it does nothing. At or above warning it retieres and evicts cold
// blobs. If usage still sits at or above critical afterwards, it evicts the
// blobs of the oldest-accessed warm records (a fixed-count batch) and
// demotes them to cold. It never guarantees usage drops below the
// thresholds in one pass.
func (e *Engine) ManageStorage(ctx context.Context, estimator StorageEstimator) (*PressureResult, error) {
	est, err := estimator.Estimate(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimating storage: %w", err)
	}

	res := &PressureResult{UsedMB: est.UsedBytes >> 20}
	if res.UsedMB < e.cfg.WarningThresholdMB {
		return res, nil
	}

	retiered, err := e.Retier(ctx)
	if err != nil {
		return res, err
	}
	res.Retiered = retiered

	cold, err := e.EvictCold(ctx)
	if err != nil {
		return res, err
	}
	res.Cold = *cold

	est, err = estimator.Estimate(ctx)
	if err != nil {
		return res, fmt.Errorf("re-estimating storage: %w", err)
	}
	res.UsedMB = est.UsedBytes >> 20
	if res.UsedMB < e.cfg.CriticalThresholdMB {
		return res, nil
	}

	res.CriticalPhase = true
	warm, err := e.records.OldestAccessed(ctx, models.TierWarm, e.cfg.WarmEvictBatch)
	if err != nil {
		return res, fmt.Errorf("listing warm records: %w", err)
	}
	for _, md := range warm {
		rows, freed, err := e.blobs.DeleteByMeeting(ctx, md.ID)
		if err != nil {
			e.log.Error(ctx, "failed to evict warm blobs", "id", md.ID, "error", err)
			continue
		}
		if err := e.records.UpdateTier(ctx, md.ID, models.TierCold); err != nil {
			e.log.Error(ctx, "failed to demote warm record", "id", md.ID, "error", err)
			continue
		}
		if rows > 0 {
			res.WarmEvicted++
			res.WarmFreed += freed
		}
	}
	return res, nil
}

// TrashItem is a recoverable soft-deleted record annotated with how long it
// stays recoverable.
type TrashItem struct {
	Metadata      models.MeetingMetadata
	DaysRemaining int
}

// Recoverable lists soft-deleted records still inside the retention window,
// most recently deleted first.
func (e *Engine) Recoverable(ctx context.Context) ([]TrashItem, error) {
	deleted, err := e.records.ListDeleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing deleted records: %w", err)
	}

	now := e.now().UTC()
	var items []TrashItem
	for _, md := range deleted {
		if expired(md.DeletedAt, now, e.cfg.RetentionDays) {
			continue
		}
		items = append(items, TrashItem{
			Metadata:      md,
			DaysRemaining: md.DaysRemaining(now, e.cfg.RetentionDays),
		})
	}
	return items, nil
}

// Restore clears the soft-delete flag on a record. It errors with
// common.ErrorNotDeleted if the record is not currently deleted.
func (e *Engine) Restore(ctx context.Context, id string) error {
	md, err := e.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !md.Deleted {
		return fmt.Errorf("restoring %s: %w", id, common.ErrorNotDeleted)
	}
	if err := e.records.SetDeleted(ctx, id, false, e.now().UTC()); err != nil {
		return fmt.Errorf("restoring %s: %w", id, err)
	}
	return nil
}

// PurgeExpired hard-deletes metadata, blobs and search terms for records
// whose soft-delete age exceeds the retention window. Irreversible. Each
// record is purged in its own transaction so one failure does not abort the
// sweep.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	deleted, err := e.records.ListDeleted(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing deleted records: %w", err)
	}

	now := e.now().UTC()
	purged := 0
	for _, md := range deleted {
		if !expired(md.DeletedAt, now, e.cfg.RetentionDays) {
			continue
		}
		id := md.ID
		err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if _, _, err := blobs.NewSQLiteRepository(tx).DeleteByMeeting(ctx, id); err != nil {
				return err
			}
			if err := search.NewSQLiteRepository(tx).DeleteByMeeting(ctx, id); err != nil {
				return err
			}
			return records.NewSQLiteRepository(tx).Delete(ctx, id)
		})
		if err != nil {
			e.log.Error(ctx, "failed to purge record", "id", id, "error", err)
			continue
		}
		purged++
		e.log.Info(ctx, "purged expired record", "id", id, "deletedAt", md.DeletedAt)
	}
	return purged, nil
}

// RequestPersistence forwards the best-effort host hint. A refusal or an
// error is logged and swallowed.
func (e *Engine) RequestPersistence(ctx context.Context, req PersistenceRequester) {
	granted, err := req.RequestPersistence(ctx)
	if err != nil {
		e.log.Warn(ctx, "persistence request failed", "error", err)
		return
	}
	if !granted {
		e.log.Warn(ctx, "persistence request denied by host")
	}
}

// expired reports whether a deletion timestamp is past the retention window.
// Records with no deletedAt cannot expire.
func expired(deletedAt, now time.Time, retentionDays int) bool {
	if deletedAt.IsZero() {
		return false
	}
	return now.After(deletedAt.AddDate(0, 0, retentionDays))
}
