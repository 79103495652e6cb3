// Package reconcile decides whether an incoming save may overwrite existing
// local state. It applies last-write-wins and delete-wins rules at
// whole-record granularity; there is no field-level merging. A rejection is
// a deliberate outcome, not an error: callers keep the existing state.
package reconcile

import "time"

// State is the conflict-relevant projection of a record, existing or
// incoming. Exists is false for the existing side on first save.
type State struct {
	Exists    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
}

// Outcome is the result class of a reconciliation decision.
type Outcome int

const (
	// Accepted means the incoming record replaces the existing state.
	Accepted Outcome = iota

	// RejectedOlder means the existing state carries a strictly newer
	// timestamp (last-write-wins).
	RejectedOlder

	// RejectedTombstone means the existing state is a tombstone the incoming
	// non-delete write may not resurrect (delete-wins).
	RejectedTombstone
)

// Decision is the outcome plus the version the caller must stamp on the
// record when accepted.
type Decision struct {
	Outcome     Outcome
	NextVersion int64
}

// Accepted reports whether the save should proceed.
func (d Decision) Accepted() bool { return d.Outcome == Accepted }

// EffectiveTimestamp is the total ordering key for conflict comparison:
// updatedAt when set, else createdAt, else the zero time. A missing
// timestamp always compares as the lowest possible value, never as "now".
func EffectiveTimestamp(updatedAt, createdAt time.Time) time.Time {
	if !updatedAt.IsZero() {
		return updatedAt
	}
	return createdAt
}

// Decide applies the conflict rules in order:
//
//  1. No existing state: accept (create).
//  2. Existing strictly newer and incoming carries a real timestamp:
//     reject (last-write-wins).
//  3. Existing is a tombstone and the incoming non-delete write is not
//     strictly newer: reject (delete-wins). A genuinely newer non-delete
//     passed rule 2 and may un-delete; anything older or with ambiguous
//     timestamps may not. Only an explicit restore bypasses this.
//  4. Accept: next version is existing+1.
func Decide(existing, incoming State) Decision {
	if !existing.Exists {
		return Decision{Outcome: Accepted, NextVersion: 1}
	}

	in := EffectiveTimestamp(incoming.UpdatedAt, incoming.CreatedAt)
	ex := EffectiveTimestamp(existing.UpdatedAt, existing.CreatedAt)

	if ex.After(in) && !in.IsZero() {
		return Decision{Outcome: RejectedOlder}
	}

	if existing.Deleted && !incoming.Deleted && !in.After(ex) {
		return Decision{Outcome: RejectedTombstone}
	}

	return Decision{Outcome: Accepted, NextVersion: existing.Version + 1}
}
