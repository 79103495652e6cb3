// Package common defines shared constants and sentinel errors used across
// the engine's layers. Callers should use errors.Is to match the sentinels
// and errors.As for the typed errors.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Validation errors, rejected before any I/O.
	ErrorValidation = errors.New("validation failed")

	// Restore on a record that is not soft-deleted.
	ErrorNotDeleted = errors.New("record is not deleted")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
)

// VerificationError reports a post-write check that did not match the state
// the transaction was supposed to leave behind. It is distinct from an
// ordinary write failure: the transaction committed, but re-reading the row
// found something else, which points at the backend acknowledging a write
// that did not land durably.
type VerificationError struct {
	RecordID      string
	WantVersion   int64
	FoundVersion  int64
	WantBlobCount int
	FoundBlobs    int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("post-write verification failed for %s: version %d (want %d), blobs %d (want %d)",
		e.RecordID, e.FoundVersion, e.WantVersion, e.FoundBlobs, e.WantBlobCount)
}

// ChunkIntegrityError reports a duplicate or missing chunk index found while
// reassembling chunked blob content. It is a data-integrity fault and is
// never silently patched over.
type ChunkIntegrityError struct {
	RecordID    string
	ContentType string
	Index       int
	Reason      string
}

func (e *ChunkIntegrityError) Error() string {
	return fmt.Sprintf("chunk integrity fault for %s/%s at index %d: %s",
		e.RecordID, e.ContentType, e.Index, e.Reason)
}
