package models

import "time"

// MeetingMetadata is the lightweight projection of a Meeting kept for fast
// list/scan queries. One row exists per non-purged meeting. Presence flags
// record which content kinds existed at the last full save, so list views
// stay truthful after the blobs themselves are evicted.
type MeetingMetadata struct {
	ID              string
	Title           string
	Preview         string
	OccurredAt      time.Time
	DurationMinutes int
	StakeholderIDs  []string
	CategoryIDs     []string

	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Deleted        bool
	DeletedAt      time.Time
	LastAccessedAt time.Time
	Tier           Tier

	HasTranscript  bool
	HasAnalysis    bool
	HasSpeakerData bool
	HasNotes       bool
	ImageCount     int
}

// DaysRemaining reports how many whole days are left in the trash retention
// window for a soft-deleted record. Zero for records past the window.
func (m *MeetingMetadata) DaysRemaining(now time.Time, retentionDays int) int {
	if !m.Deleted || m.DeletedAt.IsZero() {
		return 0
	}
	expiry := m.DeletedAt.AddDate(0, 0, retentionDays)
	if !expiry.After(now) {
		return 0
	}
	return int(expiry.Sub(now).Hours() / 24)
}
