package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/notesync/engine/internal/logging"
	"github.com/notesync/engine/internal/models"
)

// LegacySource yields the flat key/value rows of a pre-engine store. The
// migration is one-shot; the source is read once and never consulted again.
type LegacySource interface {
	// Next returns the next key and raw value, or ok=false when exhausted.
	Next(ctx context.Context) (key string, value []byte, ok bool, err error)
}

// ImportResult summarizes a legacy migration run.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []BulkError
}

// LegacyImporter feeds legacy flat records through the normal save path so
// they get the same split, indexing and verification as native writes. Sync
// queueing is off: the legacy data already lives wherever it lives.
type LegacyImporter struct {
	meetings *MeetingService
	log      logging.Logger
}

func NewLegacyImporter(meetings *MeetingService, log logging.Logger) *LegacyImporter {
	return &LegacyImporter{meetings: meetings, log: log}
}

// Run drains the source. Undecodable rows are skipped with a log line; save
// failures are collected per item and never abort the run.
func (i *LegacyImporter) Run(ctx context.Context, src LegacySource) (*ImportResult, error) {
	res := &ImportResult{}
	for {
		key, value, ok, err := src.Next(ctx)
		if err != nil {
			return res, fmt.Errorf("reading legacy source: %w", err)
		}
		if !ok {
			return res, nil
		}

		var m models.Meeting
		if err := json.Unmarshal(value, &m); err != nil {
			i.log.Warn(ctx, "skipping undecodable legacy row", "key", key, "error", err)
			res.Skipped++
			continue
		}
		if m.ID == "" {
			m.ID = key
		}

		if _, err := i.meetings.Save(ctx, &m, SaveOptions{QueueSync: false}); err != nil {
			res.Errors = append(res.Errors, BulkError{ID: m.ID, Err: err})
			continue
		}
		res.Imported++
	}
}
