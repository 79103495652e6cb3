package models

import (
	"encoding/json"
	"time"
)

// Operation identifies the kind of mutation an outbox entry carries.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// EntityType identifies which record kind an outbox entry refers to.
type EntityType string

const (
	EntityMeeting     EntityType = "meeting"
	EntityStakeholder EntityType = "stakeholder"
	EntityCategory    EntityType = "category"
)

// OutboxStatus is the sync lifecycle state of an outbox entry. Entries are
// deleted on confirmed remote success, so there is no terminal success state.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxEntry is a durably queued local mutation awaiting remote sync.
// IdempotencyKey is generated once at enqueue and never changes across
// retries, so the remote side can deduplicate replays of the same logical
// operation.
type OutboxEntry struct {
	ID             int64
	EntityType     EntityType
	EntityID       string
	Operation      Operation
	Payload        json.RawMessage
	Status         OutboxStatus
	EnqueuedAt     time.Time
	IdempotencyKey string
	RetryCount     int
	NextAttemptAt  time.Time
	LastError      string
}
