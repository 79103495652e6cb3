// Package models defines the engine's record types: the full meeting record,
// its lightweight metadata projection, content blobs, outbox entries and the
// secondary entities (stakeholders, categories).
package models

import "time"

// Tier classifies a record by recency of access. It governs eviction
// priority: cold records lose their blob content first, then warm ones.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// ContentType tags one kind of heavy content carried by a meeting.
type ContentType string

const (
	ContentTranscript  ContentType = "transcript"
	ContentAnalysis    ContentType = "analysis"
	ContentSpeakerData ContentType = "speaker_data"
	ContentNotes       ContentType = "notes"
	ContentImages      ContentType = "images"
)

// ContentTypes lists every known content kind, in projection order.
var ContentTypes = []ContentType{
	ContentTranscript,
	ContentAnalysis,
	ContentSpeakerData,
	ContentNotes,
	ContentImages,
}

// Meeting is the primary domain record. Heavy content fields (transcript,
// analysis, speaker data, notes, images) are split off into blobs by the
// codec before persistence; everything else lands in the metadata row.
type Meeting struct {
	ID              string
	Title           string
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

	// Heavy content. Empty string / nil slice means absent.
	Transcript  string
	Analysis    string
	SpeakerData string
	Notes       string
	Images      []string
}
