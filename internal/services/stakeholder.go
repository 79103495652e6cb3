package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	"github.com/notesync/engine/internal/outbox"
	"github.com/notesync/engine/internal/reconcile"
	stakeholdersrepo "github.com/notesync/engine/internal/repositories/stakeholders"
)

// StakeholderSaveResult mirrors SaveResult for the stakeholder entity.
type StakeholderSaveResult struct {
	Stakeholder *models.Stakeholder
	Outcome     reconcile.Outcome
	Queued      bool
}

func (r *StakeholderSaveResult) Accepted() bool { return r.Outcome == reconcile.Accepted }

// StakeholderService is the CRUD surface for stakeholder records. They carry
// no heavy content, so the pipeline is reconcile then upsert, but the
// conflict rules and outbox mirroring are the same as for meetings.
type StakeholderService struct {
	db    *sql.DB
	repo  stakeholdersrepo.Repository
	queue *outbox.Queue
	log   logging.Logger
	now   func() time.Time
}

// NewStakeholderService wires a stakeholder service.
func NewStakeholderService(db *sql.DB, repo stakeholdersrepo.Repository, queue *outbox.Queue, log logging.Logger) *StakeholderService {
	return &StakeholderService{db: db, repo: repo, queue: queue, log: log, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *StakeholderService) SetClock(now func() time.Time) { s.now = now }

func (s *StakeholderService) Save(ctx context.Context, sh *models.Stakeholder, opts SaveOptions) (*StakeholderSaveResult, error) {
	if sh == nil || sh.ID == "" {
		return nil, fmt.Errorf("stakeholder id is required: %w", common.ErrorValidation)
	}

	existing, err := s.repo.GetByID(ctx, sh.ID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("reading existing state: %w", err)
	}

	existingState := reconcile.State{}
	if existing != nil {
		existingState = reconcile.State{
			Exists:    true,
			Version:   existing.Version,
			CreatedAt: existing.CreatedAt,
			UpdatedAt: existing.UpdatedAt,
			Deleted:   existing.Deleted,
		}
	}
	decision := reconcile.Decide(existingState, reconcile.State{
		CreatedAt: sh.CreatedAt,
		UpdatedAt: sh.UpdatedAt,
		Deleted:   sh.Deleted,
	})
	if !decision.Accepted() {
		return &StakeholderSaveResult{Stakeholder: existing, Outcome: decision.Outcome}, nil
	}

	now := s.now().UTC()
	sh.Version = decision.NextVersion
	if sh.CreatedAt.IsZero() {
		if existing != nil {
			sh.CreatedAt = existing.CreatedAt
		} else {
			sh.CreatedAt = now
		}
	}
	if sh.UpdatedAt.IsZero() {
		sh.UpdatedAt = now
	}
	if sh.Deleted && sh.DeletedAt.IsZero() {
		sh.DeletedAt = now
	}
	if !sh.Deleted {
		sh.DeletedAt = time.Time{}
	}

	if err := s.repo.Upsert(ctx, sh); err != nil {
		return nil, fmt.Errorf("saving stakeholder %s: %w", sh.ID, err)
	}

	res := &StakeholderSaveResult{Stakeholder: sh, Outcome: reconcile.Accepted}
	if opts.QueueSync {
		op := opts.Operation
		if op == "" {
			switch {
			case sh.Deleted:
				op = models.OperationDelete
			case existing == nil:
				op = models.OperationCreate
			default:
				op = models.OperationUpdate
			}
		}
		payload, err := json.Marshal(sh)
		if err != nil {
			s.log.Error(ctx, "failed to encode outbox payload", "id", sh.ID, "error", err)
		} else if _, err := s.queue.Enqueue(ctx, models.EntityStakeholder, sh.ID, op, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue sync entry", "id", sh.ID, "error", err)
		} else {
			res.Queued = true
		}
	}
	return res, nil
}

func (s *StakeholderService) Get(ctx context.Context, id string) (*models.Stakeholder, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *StakeholderService) GetAll(ctx context.Context) ([]models.Stakeholder, error) {
	return s.repo.GetAll(ctx, false)
}

func (s *StakeholderService) SoftDelete(ctx context.Context, id string, queueSync bool) error {
	if id == "" {
		return fmt.Errorf("stakeholder id is required: %w", common.ErrorValidation)
	}
	now := s.now().UTC()
	if err := s.repo.SetDeleted(ctx, id, true, now); err != nil {
		return fmt.Errorf("soft-deleting stakeholder %s: %w", id, err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id, "deletedAt": now})
		if _, err := s.queue.Enqueue(ctx, models.EntityStakeholder, id, models.OperationDelete, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue delete", "id", id, "error", err)
		}
	}
	return nil
}

func (s *StakeholderService) Restore(ctx context.Context, id string, queueSync bool) error {
	sh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !sh.Deleted {
		return fmt.Errorf("restoring stakeholder %s: %w", id, common.ErrorNotDeleted)
	}
	now := s.now().UTC()
	if err := s.repo.SetDeleted(ctx, id, false, now); err != nil {
		return fmt.Errorf("restoring stakeholder %s: %w", id, err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id, "restoredAt": now})
		if _, err := s.queue.Enqueue(ctx, models.EntityStakeholder, id, models.OperationUpdate, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue restore", "id", id, "error", err)
		}
	}
	return nil
}

func (s *StakeholderService) HardDelete(ctx context.Context, id string, queueSync bool) error {
	if id == "" {
		return fmt.Errorf("stakeholder id is required: %w", common.ErrorValidation)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("hard-deleting stakeholder %s: %w", id, err)
	}
	if _, err := s.queue.Cancel(ctx, id, nil); err != nil {
		s.log.Warn(ctx, "failed to cancel pending sync entries", "id", id, "error", err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id})
		if _, err := s.queue.Enqueue(ctx, models.EntityStakeholder, id, models.OperationDelete, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue hard delete", "id", id, "error", err)
		}
	}
	return nil
}

// SaveAll applies Save per item without aborting the batch on one failure.
func (s *StakeholderService) SaveAll(ctx context.Context, items []*models.Stakeholder, opts SaveOptions) ([]StakeholderSaveResult, []BulkError) {
	var results []StakeholderSaveResult
	var errs []BulkError
	for _, sh := range items {
		res, err := s.Save(ctx, sh, opts)
		if err != nil {
			id := ""
			if sh != nil {
				id = sh.ID
			}
			errs = append(errs, BulkError{ID: id, Err: err})
			continue
		}
		results = append(results, *res)
	}
	return results, errs
}
