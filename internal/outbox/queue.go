// Package outbox implements the durable sync queue: every accepted local
// mutation is mirrored here and replayed against a caller-supplied remote
// sync function until it succeeds or exhausts its retries. The queue is the
// only cross-device coordination mechanism in the engine.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
	outboxrepo "github.com/notesync/engine/internal/repositories/outbox"
)

const (
	// DefaultMaxRetries is how many sync failures an entry survives before
	// it is parked as failed.
	DefaultMaxRetries = 5

	// DefaultBaseBackoff is the first retry delay; subsequent delays grow
	// exponentially up to DefaultMaxBackoff.
	DefaultBaseBackoff = 2 * time.Second

	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 5 * time.Minute

	// DefaultDrainInterval is the period of the background drain timer.
	DefaultDrainInterval = 30 * time.Second
)

// SyncFunc pushes one outbox entry to the remote side. The engine is
// agnostic to transport; any error counts as a failed attempt. The entry's
// IdempotencyKey is stable across attempts so the remote can deduplicate.
type SyncFunc func(ctx context.Context, entry *models.OutboxEntry) error

// DrainResult reports what a single drain pass did.
type DrainResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int

	// AlreadyDraining is set when another drain held the permit.
	AlreadyDraining bool

	// Offline is set when the drain was skipped because the queue is
	// offline.
	Offline bool
}

// Queue is the outbox service. At most one drain runs at a time, enforced
// by a single-permit semaphore; extra triggers fall through as no-ops.
type Queue struct {
	repo        outboxrepo.Repository
	log         logging.Logger
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	drainSem *semaphore.Weighted
	online   atomic.Bool
	wake     chan struct{}
}

// Option tweaks queue construction.
type Option func(*Queue)

// WithMaxRetries overrides the per-entry retry budget.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithBackoff overrides the base and cap of the retry delay schedule.
func WithBackoff(base, max time.Duration) Option {
	return func(q *Queue) { q.baseBackoff = base; q.maxBackoff = max }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue returns an outbox queue over the given repository. The queue
// starts online.
func NewQueue(repo outboxrepo.Repository, log logging.Logger, opts ...Option) *Queue {
	q := &Queue{
		repo:        repo,
		log:         log,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
		now:         time.Now,
		drainSem:    semaphore.NewWeighted(1),
		wake:        make(chan struct{}, 1),
	}
	q.online.Store(true)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue durably records a mutation with a fresh idempotency key and nudges
// the background drain loop if one is running and the queue is online.
func (q *Queue) Enqueue(ctx context.Context, entityType models.EntityType, entityID string, op models.Operation, payload json.RawMessage) (*models.OutboxEntry, error) {
	e := &models.OutboxEntry{
		EntityType:     entityType,
		EntityID:       entityID,
		Operation:      op,
		Payload:        payload,
		Status:         models.OutboxPending,
		EnqueuedAt:     q.now().UTC(),
		IdempotencyKey: uuid.NewString(),
	}
	if _, err := q.repo.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("enqueueing %s %s: %w", op, entityID, err)
	}
	if q.Online() {
		q.nudge()
	}
	return e, nil
}

// Drain replays every due pending entry, in enqueue order, against syncFn.
// Succeeded entries are deleted; failed ones are rescheduled or parked as
// failed once the retry budget is spent. An individual failure never blocks
// the entries behind it. Entries a previous run left in processing are reset
// to pending first. If a drain is already running or the queue is offline,
// Drain returns immediately with a no-op result.
func (q *Queue) Drain(ctx context.Context, syncFn SyncFunc) (*DrainResult, error) {
	if !q.Online() {
		return &DrainResult{Offline: true}, nil
	}
	if !q.drainSem.TryAcquire(1) {
		return &DrainResult{AlreadyDraining: true}, nil
	}
	defer q.drainSem.Release(1)

	// Only a drain holding the semaphore marks entries processing, so any
	// processing row seen here was orphaned by a crash or cancellation.
	recovered, err := q.repo.ResetProcessing(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovering orphaned entries: %w", err)
	}
	if recovered > 0 {
		q.log.Warn(ctx, "recovered entries stuck in processing", "count", recovered)
	}

	entries, err := q.repo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending entries: %w", err)
	}

	res := &DrainResult{}
	now := q.now().UTC()
	for i := range entries {
		e := &entries[i]
		if e.NextAttemptAt.After(now) {
			res.Skipped++
			continue
		}
		res.Attempted++

		if err := q.repo.UpdateStatus(ctx, e.ID, models.OutboxProcessing); err != nil {
			q.log.Error(ctx, "failed to mark outbox entry processing", "id", e.ID, "error", err)
			res.Failed++
			continue
		}

		if err := syncFn(ctx, e); err != nil {
			q.recordFailure(ctx, e, err)
			res.Failed++
			continue
		}

		if err := q.repo.Delete(ctx, e.ID); err != nil {
			// The remote accepted the entry; a delete failure means it will
			// be replayed, which the idempotency key makes safe.
			q.log.Error(ctx, "failed to delete synced outbox entry", "id", e.ID, "error", err)
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// RetryFailed resets every failed entry to pending with a zeroed retry
// count. Returns how many entries were reset.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	n, err := q.repo.ResetFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("retrying failed entries: %w", err)
	}
	if n > 0 {
		q.nudge()
	}
	return n, nil
}

// Cancel removes pending entries for an entity, optionally restricted to
// one operation. Used when a local undo makes a queued operation moot.
func (q *Queue) Cancel(ctx context.Context, entityID string, op *models.Operation) (int, error) {
	n, err := q.repo.CancelPending(ctx, entityID, op)
	if err != nil {
		return 0, fmt.Errorf("cancelling entries for %s: %w", entityID, err)
	}
	return n, nil
}

// Stats reports queue counters.
func (q *Queue) Stats(ctx context.Context) (*outboxrepo.Stats, error) {
	return q.repo.Stats(ctx, q.now().UTC())
}

// Online reports whether the queue currently considers the remote reachable.
func (q *Queue) Online() bool { return q.online.Load() }

// SetOnline records connectivity. An offline-to-online transition nudges the
// background drain loop.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if online && !was {
		q.nudge()
	}
}

// Run drains on a periodic timer and whenever the queue is nudged (enqueue,
// online transition, failed-entry reset). It blocks until ctx is done.
func (q *Queue) Run(ctx context.Context, syncFn SyncFunc, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		res, err := q.Drain(ctx, syncFn)
		if err != nil {
			q.log.Error(ctx, "outbox drain failed", "error", err)
			continue
		}
		if res.Attempted > 0 {
			q.log.Info(ctx, "outbox drained",
				"attempted", res.Attempted, "succeeded", res.Succeeded,
				"failed", res.Failed, "skipped", res.Skipped)
		}
	}
}

func (q *Queue) recordFailure(ctx context.Context, e *models.OutboxEntry, syncErr error) {
	retryCount := e.RetryCount + 1
	status := models.OutboxPending
	if retryCount >= q.maxRetries {
		status = models.OutboxFailed
	}
	next := q.now().UTC().Add(q.backoffDelay(retryCount))
	if err := q.repo.RecordFailure(ctx, e.ID, status, retryCount, syncErr.Error(), next); err != nil {
		q.log.Error(ctx, "failed to record outbox failure", "id", e.ID, "error", err)
		return
	}
	q.log.Warn(ctx, "outbox entry sync failed",
		"id", e.ID, "entity", e.EntityID, "operation", e.Operation,
		"retryCount", retryCount, "status", status, "error", syncErr)
}

// backoffDelay computes the delay before attempt retryCount+1 using a capped
// exponential schedule.
func (q *Queue) backoffDelay(retryCount int) time.Duration {
	b := retry.WithCappedDuration(q.maxBackoff, retry.NewExponential(q.baseBackoff))
	var d time.Duration
	for i := 0; i < retryCount; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}

// nudge wakes the Run loop without blocking; a pending nudge is enough.
func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
