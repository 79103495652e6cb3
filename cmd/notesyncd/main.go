// Command notesyncd runs the engine as a local daemon: it owns the store,
// drains the outbox against a remote endpoint and runs periodic maintenance
// (retiering, storage pressure relief, trash purge).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/notesync/engine/internal/codec"
	"github.com/notesync/engine/internal/config"
	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/outbox"
	blobsrepo "github.com/notesync/engine/internal/repositories/blobs"
	categoriesrepo "github.com/notesync/engine/internal/repositories/categories"
	outboxrepo "github.com/notesync/engine/internal/repositories/outbox"
	recordsrepo "github.com/notesync/engine/internal/repositories/records"
	searchrepo "github.com/notesync/engine/internal/repositories/search"
	stakeholdersrepo "github.com/notesync/engine/internal/repositories/stakeholders"
	"github.com/notesync/engine/internal/services"
	"github.com/notesync/engine/internal/storage"
	"github.com/notesync/engine/internal/tiering"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	queue := outbox.NewQueue(outboxrepo.NewSQLiteRepository(db), log,
		outbox.WithMaxRetries(cfg.MaxRetries))

	engine := tiering.NewEngine(db,
		recordsrepo.NewSQLiteRepository(db),
		blobsrepo.NewSQLiteRepository(db),
		searchrepo.NewSQLiteRepository(db),
		log,
		tiering.Config{
			HotDays:             cfg.HotDays,
			WarmDays:            cfg.WarmDays,
			WarningThresholdMB:  cfg.WarningThresholdMB,
			CriticalThresholdMB: cfg.CriticalThresholdMB,
			WarmEvictBatch:      cfg.WarmEvictBatch,
			RetentionDays:       cfg.RetentionDays,
		})

	estimator := &tiering.FileEstimator{Path: cfg.DatabasePath, QuotaBytes: cfg.QuotaBytes}

	c := codec.New(cfg.ChunkThresholdBytes, cfg.ChunkSizeBytes)
	meetings := services.NewMeetingService(db, c,
		recordsrepo.NewSQLiteRepository(db),
		blobsrepo.NewSQLiteRepository(db),
		searchrepo.NewSQLiteRepository(db),
		queue, log)
	stakeholders := services.NewStakeholderService(db, stakeholdersrepo.NewSQLiteRepository(db), queue, log)
	categories := services.NewCategoryService(db, categoriesrepo.NewSQLiteRepository(db), queue, log)

	if cfg.LegacyImportPath != "" {
		src, err := newLegacyFileSource(cfg.LegacyImportPath)
		if err != nil {
			return err
		}
		res, err := services.NewLegacyImporter(meetings, log).Run(ctx, src)
		if err != nil {
			return err
		}
		log.Info(ctx, "legacy import finished",
			"imported", res.Imported, "skipped", res.Skipped, "errors", len(res.Errors))
	}

	engine.RequestPersistence(ctx, filePersistence{})

	remoteURL := os.Getenv("NOTESYNC_REMOTE_URL")
	syncFn := remoteSyncFunc(remoteURL)
	if remoteURL == "" {
		log.Warn(ctx, "no remote url configured, outbox stays queued")
		queue.SetOnline(false)
	}

	log.Info(ctx, "notesyncd started", "db", cfg.DatabasePath, "remote", remoteURL)
	logStoreSummary(ctx, log, meetings, stakeholders, categories, queue)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		queue.Run(ctx, syncFn, cfg.DrainInterval)
	}()
	go func() {
		defer wg.Done()
		maintenanceLoop(ctx, engine, estimator, log, cfg.MaintenanceInterval)
	}()
	wg.Wait()

	log.Info(context.Background(), "notesyncd stopped")
	return nil
}

// filePersistence is the host persistence hint for a plain filesystem store.
// There is no quota broker to ask, so the request is always granted.
type filePersistence struct{}

func (filePersistence) RequestPersistence(ctx context.Context) (bool, error) {
	return true, nil
}

// legacyFileSource iterates a JSON export file: a single object mapping
// record ids to payloads. Keys are walked in sorted order so a rerun
// replays identically.
type legacyFileSource struct {
	keys []string
	rows map[string]json.RawMessage
	pos  int
}

func newLegacyFileSource(path string) (*legacyFileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading legacy export: %w", err)
	}
	var rows map[string]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding legacy export: %w", err)
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &legacyFileSource{keys: keys, rows: rows}, nil
}

func (s *legacyFileSource) Next(ctx context.Context) (string, []byte, bool, error) {
	if s.pos >= len(s.keys) {
		return "", nil, false, nil
	}
	key := s.keys[s.pos]
	s.pos++
	return key, s.rows[key], true, nil
}

func logStoreSummary(ctx context.Context, log logging.Logger, meetings *services.MeetingService, stakeholders *services.StakeholderService, categories *services.CategoryService, queue *outbox.Queue) {
	ms, err := meetings.GetAll(ctx)
	if err != nil {
		log.Warn(ctx, "failed to count meetings", "error", err)
		return
	}
	shs, err := stakeholders.GetAll(ctx)
	if err != nil {
		log.Warn(ctx, "failed to count stakeholders", "error", err)
		return
	}
	cats, err := categories.GetAll(ctx)
	if err != nil {
		log.Warn(ctx, "failed to count categories", "error", err)
		return
	}
	stats, err := queue.Stats(ctx)
	if err != nil {
		log.Warn(ctx, "failed to read outbox stats", "error", err)
		return
	}
	log.Info(ctx, "store summary",
		"meetings", len(ms), "stakeholders", len(shs), "categories", len(cats),
		"outboxPending", stats.Pending, "outboxFailed", stats.Failed)
}

// remoteSyncFunc posts each entry as JSON. The idempotency key travels in a
// header so the remote can deduplicate replays.
func remoteSyncFunc(url string) outbox.SyncFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	return func(ctx context.Context, entry *models.OutboxEntry) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(entry.Payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", entry.IdempotencyKey)
		req.Header.Set("X-Entity-Type", string(entry.EntityType))
		req.Header.Set("X-Operation", string(entry.Operation))

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("remote returned %s", resp.Status)
		}
		return nil
	}
}

func maintenanceLoop(ctx context.Context, engine *tiering.Engine, estimator tiering.StorageEstimator, log logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := engine.Retier(ctx); err != nil {
			log.Error(ctx, "retier failed", "error", err)
		} else if n > 0 {
			log.Info(ctx, "retiered records", "updated", n)
		}

		if res, err := engine.ManageStorage(ctx, estimator); err != nil {
			log.Error(ctx, "storage management failed", "error", err)
		} else if res.Cold.EvictedCount > 0 || res.WarmEvicted > 0 {
			log.Info(ctx, "relieved storage pressure",
				"usedMB", res.UsedMB,
				"coldEvicted", res.Cold.EvictedCount, "coldFreed", res.Cold.FreedBytes,
				"warmEvicted", res.WarmEvicted, "warmFreed", res.WarmFreed)
		}

		if n, err := engine.PurgeExpired(ctx); err != nil {
			log.Error(ctx, "trash purge failed", "error", err)
		} else if n > 0 {
			log.Info(ctx, "purged expired records", "count", n)
		}
	}
}
