// Package services exposes the engine's CRUD surface. Each service wires
// reconciliation, the codec, transactional persistence, post-write
// verification and outbox mirroring into one save path.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/notesync/engine/internal/codec"
	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/dbx"
	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/outbox"
	"github.com/notesync/engine/internal/reconcile"
	blobsrepo "github.com/notesync/engine/internal/repositories/blobs"
	recordsrepo "github.com/notesync/engine/internal/repositories/records"
	searchrepo "github.com/notesync/engine/internal/repositories/search"
)

// SaveOptions controls one save call.
type SaveOptions struct {
	// QueueSync mirrors the accepted mutation into the outbox.
	QueueSync bool

	// Operation overrides the outbox operation. When empty, CREATE or
	// UPDATE is inferred from whether the record already existed.
	Operation models.Operation
}

// SaveResult reports the outcome of a save. On rejection, Meeting holds the
// existing state unchanged.
type SaveResult struct {
	Meeting *models.Meeting
	Outcome reconcile.Outcome
	Queued  bool
}

// Accepted reports whether the incoming record was persisted.
func (r *SaveResult) Accepted() bool { return r.Outcome == reconcile.Accepted }

// BulkError pairs a record id with the error its item produced.
type BulkError struct {
	ID  string
	Err error
}

// MeetingService is the CRUD surface for meeting records.
type MeetingService struct {
	db      *sql.DB
	codec   *codec.Codec
	records recordsrepo.Repository
	blobs   blobsrepo.Repository
	search  searchrepo.Repository
	queue   *outbox.Queue
	log     logging.Logger
	now     func() time.Time
}

// NewMeetingService wires a meeting service over the store handle and the
// outbox queue.
func NewMeetingService(db *sql.DB, c *codec.Codec, records recordsrepo.Repository, blobs blobsrepo.Repository, search searchrepo.Repository, queue *outbox.Queue, log logging.Logger) *MeetingService {
	return &MeetingService{
		db:      db,
		codec:   c,
		records: records,
		blobs:   blobs,
		search:  search,
		queue:   queue,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *MeetingService) SetClock(now func() time.Time) { s.now = now }

// Save runs the full write pipeline: validate, reconcile against existing
// local state, split, commit metadata + blobs + search terms atomically,
// verify the write landed, then mirror into the outbox. A reconciliation
// rejection is not an error; the result carries the surviving state.
func (s *MeetingService) Save(ctx context.Context, m *models.Meeting, opts SaveOptions) (*SaveResult, error) {
	if m == nil || m.ID == "" {
		return nil, fmt.Errorf("meeting id is required: %w", common.ErrorValidation)
	}

	existing, err := s.records.GetByID(ctx, m.ID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("reading existing state: %w", err)
	}

	decision := reconcile.Decide(metadataState(existing), reconcile.State{
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Deleted:   m.Deleted,
	})
	if !decision.Accepted() {
		kept, err := s.reconstruct(ctx, existing)
		if err != nil {
			return nil, err
		}
		return &SaveResult{Meeting: kept, Outcome: decision.Outcome}, nil
	}

	now := s.now().UTC()
	m.Version = decision.NextVersion
	if m.CreatedAt.IsZero() {
		if existing != nil {
			m.CreatedAt = existing.CreatedAt
		} else {
			m.CreatedAt = now
		}
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.Deleted && m.DeletedAt.IsZero() {
		m.DeletedAt = now
	}
	if !m.Deleted {
		m.DeletedAt = time.Time{}
	}
	m.LastAccessedAt = now
	m.Tier = models.TierHot

	md, blobs := s.codec.Split(m)

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := recordsrepo.NewSQLiteRepository(tx).Upsert(ctx, md); err != nil {
			return err
		}
		if err := blobsrepo.NewSQLiteRepository(tx).ReplaceForMeeting(ctx, m.ID, blobs); err != nil {
			return err
		}
		return searchrepo.NewSQLiteRepository(tx).ReplaceForMeeting(ctx, m.ID, searchTerms(md))
	})
	if err != nil {
		return nil, fmt.Errorf("saving meeting %s: %w", m.ID, err)
	}

	if err := s.verifyWrite(ctx, m.ID, m.Version, len(blobs)); err != nil {
		return nil, err
	}

	res := &SaveResult{Meeting: m, Outcome: reconcile.Accepted}
	if opts.QueueSync {
		res.Queued = s.mirror(ctx, m, existing, opts.Operation)
	}
	return res, nil
}

// verifyWrite re-reads the just-written row and blob count. A mismatch is a
// verification fault: the backend acknowledged a write that is not there.
// A plain read error after a committed transaction is logged and swallowed,
// since the write itself may well have succeeded.
func (s *MeetingService) verifyWrite(ctx context.Context, id string, wantVersion int64, wantBlobs int) error {
	got, err := s.records.GetByID(ctx, id)
	if err != nil {
		s.log.Warn(ctx, "post-write readback failed", "id", id, "error", err)
		return nil
	}
	count, err := s.blobs.Count(ctx, id)
	if err != nil {
		s.log.Warn(ctx, "post-write blob count failed", "id", id, "error", err)
		return nil
	}
	if got.Version != wantVersion || (wantBlobs > 0 && count == 0) {
		return &common.VerificationError{
			RecordID:      id,
			WantVersion:   wantVersion,
			FoundVersion:  got.Version,
			WantBlobCount: wantBlobs,
			FoundBlobs:    count,
		}
	}
	return nil
}

// mirror appends the accepted mutation to the outbox. Failures are logged,
// never propagated: losing a queued sync entry after a durable local save
// is a recoverable gap.
func (s *MeetingService) mirror(ctx context.Context, m *models.Meeting, existing *models.MeetingMetadata, op models.Operation) bool {
	if op == "" {
		switch {
		case m.Deleted:
			op = models.OperationDelete
		case existing == nil:
			op = models.OperationCreate
		default:
			op = models.OperationUpdate
		}
	}
	payload, err := json.Marshal(m)
	if err != nil {
		s.log.Error(ctx, "failed to encode outbox payload", "id", m.ID, "error", err)
		return false
	}
	if _, err := s.queue.Enqueue(ctx, models.EntityMeeting, m.ID, op, payload); err != nil {
		s.log.Error(ctx, "failed to enqueue sync entry", "id", m.ID, "error", err)
		return false
	}
	return true
}

// Get returns the full record, rehydrated from metadata and blobs, and
// refreshes its access recency. Returns common.ErrorNotFound if absent.
func (s *MeetingService) Get(ctx context.Context, id string) (*models.Meeting, error) {
	md, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.reconstruct(ctx, md)
	if err != nil {
		return nil, err
	}
	if err := s.records.TouchAccess(ctx, id, s.now().UTC()); err != nil {
		s.log.Warn(ctx, "failed to refresh access time", "id", id, "error", err)
	}
	return m, nil
}

// GetMetadata returns just the metadata projection, without touching
// recency. Suits list views.
func (s *MeetingService) GetMetadata(ctx context.Context, id string) (*models.MeetingMetadata, error) {
	return s.records.GetByID(ctx, id)
}

// GetAll lists metadata for every non-deleted meeting, newest first.
func (s *MeetingService) GetAll(ctx context.Context) ([]models.MeetingMetadata, error) {
	return s.records.GetAll(ctx, false)
}

// GetByStakeholder lists meetings referencing a stakeholder.
func (s *MeetingService) GetByStakeholder(ctx context.Context, stakeholderID string) ([]models.MeetingMetadata, error) {
	return s.records.GetByStakeholder(ctx, stakeholderID)
}

// HasBlobs reports whether any heavy content is currently stored for the
// meeting. False after eviction even though the metadata presence flags
// stay set.
func (s *MeetingService) HasBlobs(ctx context.Context, id string) (bool, error) {
	n, err := s.blobs.Count(ctx, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Search returns metadata for meetings whose indexed terms match the query
// prefix.
func (s *MeetingService) Search(ctx context.Context, query string) ([]models.MeetingMetadata, error) {
	ids, err := s.search.Search(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	var result []models.MeetingMetadata
	for _, id := range ids {
		md, err := s.records.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			return nil, err
		}
		if md.Deleted {
			continue
		}
		result = append(result, *md)
	}
	return result, nil
}

// SoftDelete flips the tombstone flag. The record stays recoverable for the
// trash retention window.
func (s *MeetingService) SoftDelete(ctx context.Context, id string, queueSync bool) error {
	if id == "" {
		return fmt.Errorf("meeting id is required: %w", common.ErrorValidation)
	}
	now := s.now().UTC()
	if err := s.records.SetDeleted(ctx, id, true, now); err != nil {
		return fmt.Errorf("soft-deleting meeting %s: %w", id, err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id, "deletedAt": now})
		if _, err := s.queue.Enqueue(ctx, models.EntityMeeting, id, models.OperationDelete, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue delete", "id", id, "error", err)
		}
	}
	return nil
}

// Restore clears the tombstone. Errors with common.ErrorNotDeleted when the
// record is not currently deleted; this is the only path that may revive a
// tombstone.
func (s *MeetingService) Restore(ctx context.Context, id string, queueSync bool) error {
	md, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !md.Deleted {
		return fmt.Errorf("restoring meeting %s: %w", id, common.ErrorNotDeleted)
	}
	now := s.now().UTC()
	if err := s.records.SetDeleted(ctx, id, false, now); err != nil {
		return fmt.Errorf("restoring meeting %s: %w", id, err)
	}
	if err := s.records.TouchAccess(ctx, id, now); err != nil {
		s.log.Warn(ctx, "failed to refresh access time", "id", id, "error", err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id, "restoredAt": now})
		if _, err := s.queue.Enqueue(ctx, models.EntityMeeting, id, models.OperationUpdate, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue restore", "id", id, "error", err)
		}
	}
	return nil
}

// HardDelete removes the record entirely: metadata, blobs, search terms and
// any still-pending outbox entries for it. Irreversible.
func (s *MeetingService) HardDelete(ctx context.Context, id string, queueSync bool) error {
	if id == "" {
		return fmt.Errorf("meeting id is required: %w", common.ErrorValidation)
	}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, _, err := blobsrepo.NewSQLiteRepository(tx).DeleteByMeeting(ctx, id); err != nil {
			return err
		}
		if err := searchrepo.NewSQLiteRepository(tx).DeleteByMeeting(ctx, id); err != nil {
			return err
		}
		return recordsrepo.NewSQLiteRepository(tx).Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("hard-deleting meeting %s: %w", id, err)
	}
	if _, err := s.queue.Cancel(ctx, id, nil); err != nil {
		s.log.Warn(ctx, "failed to cancel pending sync entries", "id", id, "error", err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id})
		if _, err := s.queue.Enqueue(ctx, models.EntityMeeting, id, models.OperationDelete, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue hard delete", "id", id, "error", err)
		}
	}
	return nil
}

// SaveAll applies Save per item. One item's failure or rejection never
// aborts the batch; failures come back paired with their record ids.
func (s *MeetingService) SaveAll(ctx context.Context, meetings []*models.Meeting, opts SaveOptions) ([]SaveResult, []BulkError) {
	var results []SaveResult
	var errs []BulkError
	for _, m := range meetings {
		res, err := s.Save(ctx, m, opts)
		if err != nil {
			id := ""
			if m != nil {
				id = m.ID
			}
			errs = append(errs, BulkError{ID: id, Err: err})
			continue
		}
		results = append(results, *res)
	}
	return results, errs
}

// SoftDeleteAll applies SoftDelete per id, collecting per-item errors.
func (s *MeetingService) SoftDeleteAll(ctx context.Context, ids []string, queueSync bool) []BulkError {
	var errs []BulkError
	for _, id := range ids {
		if err := s.SoftDelete(ctx, id, queueSync); err != nil {
			errs = append(errs, BulkError{ID: id, Err: err})
		}
	}
	return errs
}

// reconstruct rebuilds the full record from a metadata row and its stored
// blobs. After eviction the content fields come back empty while the
// metadata presence flags stay truthful.
func (s *MeetingService) reconstruct(ctx context.Context, md *models.MeetingMetadata) (*models.Meeting, error) {
	if md == nil {
		return nil, common.ErrorNotFound
	}
	blobs, err := s.blobs.GetByMeeting(ctx, md.ID)
	if err != nil {
		return nil, fmt.Errorf("reading blobs for %s: %w", md.ID, err)
	}
	return s.codec.Reconstruct(md, blobs)
}

func metadataState(md *models.MeetingMetadata) reconcile.State {
	if md == nil {
		return reconcile.State{}
	}
	return reconcile.State{
		Exists:    true,
		Version:   md.Version,
		CreatedAt: md.CreatedAt,
		UpdatedAt: md.UpdatedAt,
		Deleted:   md.Deleted,
	}
}

// searchTerms tokenizes title and preview into the derived index terms.
func searchTerms(md *models.MeetingMetadata) []string {
	fields := md.Title + " " + md.Preview
	split := strings.FieldsFunc(fields, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := map[string]struct{}{}
	var terms []string
	for _, w := range split {
		w = strings.ToLower(w)
		if len(w) < 2 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}
