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
	categoriesrepo "github.com/notesync/engine/internal/repositories/categories"
)

// CategorySaveResult mirrors SaveResult for the category entity.
type CategorySaveResult struct {
	Category *models.Category
	Outcome  reconcile.Outcome
	Queued   bool
}

func (r *CategorySaveResult) Accepted() bool { return r.Outcome == reconcile.Accepted }

// CategoryService is the CRUD surface for category records.
type CategoryService struct {
	db    *sql.DB
	repo  categoriesrepo.Repository
	queue *outbox.Queue
	log   logging.Logger
	now   func() time.Time
}

// NewCategoryService wires a category service.
func NewCategoryService(db *sql.DB, repo categoriesrepo.Repository, queue *outbox.Queue, log logging.Logger) *CategoryService {
	return &CategoryService{db: db, repo: repo, queue: queue, log: log, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *CategoryService) SetClock(now func() time.Time) { s.now = now }

func (s *CategoryService) Save(ctx context.Context, c *models.Category, opts SaveOptions) (*CategorySaveResult, error) {
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("category id is required: %w", common.ErrorValidation)
	}

	existing, err := s.repo.GetByID(ctx, c.ID)
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
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Deleted:   c.Deleted,
	})
	if !decision.Accepted() {
		return &CategorySaveResult{Category: existing, Outcome: decision.Outcome}, nil
	}

	now := s.now().UTC()
	c.Version = decision.NextVersion
	if c.CreatedAt.IsZero() {
		if existing != nil {
			c.CreatedAt = existing.CreatedAt
		} else {
			c.CreatedAt = now
		}
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if c.Deleted && c.DeletedAt.IsZero() {
		c.DeletedAt = now
	}
	if !c.Deleted {
		c.DeletedAt = time.Time{}
	}

	if err := s.repo.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("saving category %s: %w", c.ID, err)
	}

	res := &CategorySaveResult{Category: c, Outcome: reconcile.Accepted}
	if opts.QueueSync {
		op := opts.Operation
		if op == "" {
			switch {
			case c.Deleted:
				op = models.OperationDelete
			case existing == nil:
				op = models.OperationCreate
			default:
				op = models.OperationUpdate
			}
		}
		payload, err := json.Marshal(c)
		if err != nil {
			s.log.Error(ctx, "failed to encode outbox payload", "id", c.ID, "error", err)
		} else if _, err := s.queue.Enqueue(ctx, models.EntityCategory, c.ID, op, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue sync entry", "id", c.ID, "error", err)
		} else {
			res.Queued = true
		}
	}
	return res, nil
}

func (s *CategoryService) Get(ctx context.Context, id string) (*models.Category, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *CategoryService) GetAll(ctx context.Context) ([]models.Category, error) {
	return s.repo.GetAll(ctx, false)
}

func (s *CategoryService) SoftDelete(ctx context.Context, id string, queueSync bool) error {
	if id == "" {
		return fmt.Errorf("category id is required: %w", common.ErrorValidation)
	}
	now := s.now().UTC()
	if err := s.repo.SetDeleted(ctx, id, true, now); err != nil {
		return fmt.Errorf("soft-deleting category %s: %w", id, err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id, "deletedAt": now})
		if _, err := s.queue.Enqueue(ctx, models.EntityCategory, id, models.OperationDelete, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue delete", "id", id, "error", err)
		}
	}
	return nil
}

func (s *CategoryService) Restore(ctx context.Context, id string, queueSync bool) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !c.Deleted {
		return fmt.Errorf("restoring category %s: %w", id, common.ErrorNotDeleted)
	}
	now := s.now().UTC()
	if err := s.repo.SetDeleted(ctx, id, false, now); err != nil {
		return fmt.Errorf("restoring category %s: %w", id, err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id, "restoredAt": now})
		if _, err := s.queue.Enqueue(ctx, models.EntityCategory, id, models.OperationUpdate, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue restore", "id", id, "error", err)
		}
	}
	return nil
}

func (s *CategoryService) HardDelete(ctx context.Context, id string, queueSync bool) error {
	if id == "" {
		return fmt.Errorf("category id is required: %w", common.ErrorValidation)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("hard-deleting category %s: %w", id, err)
	}
	if _, err := s.queue.Cancel(ctx, id, nil); err != nil {
		s.log.Warn(ctx, "failed to cancel pending sync entries", "id", id, "error", err)
	}
	if queueSync {
		payload, _ := json.Marshal(map[string]any{"id": id})
		if _, err := s.queue.Enqueue(ctx, models.EntityCategory, id, models.OperationDelete, payload); err != nil {
			s.log.Error(ctx, "failed to enqueue hard delete", "id", id, "error", err)
		}
	}
	return nil
}

// SaveAll applies Save per item without aborting the batch on one failure.
func (s *CategoryService) SaveAll(ctx context.Context, items []*models.Category, opts SaveOptions) ([]CategorySaveResult, []BulkError) {
	var results []CategorySaveResult
	var errs []BulkError
	for _, c := range items {
		res, err := s.Save(ctx, c, opts)
		if err != nil {
			id := ""
			if c != nil {
				id = c.ID
			}
			errs = append(errs, BulkError{ID: id, Err: err})
			continue
		}
		results = append(results, *res)
	}
	return results, errs
}
