// Package codec splits a full meeting record into its metadata projection
// plus content blobs, and reassembles the record from them. It is pure: no
// I/O, deterministic output for a given input.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/models"
)

const (
	// DefaultChunkThreshold is the serialized size above which content is
	// chunked. Values beyond tens of kilobytes degrade the store's
	// per-value transaction cost.
	DefaultChunkThreshold = 50 << 10

	// DefaultChunkSize is the target size of each chunk.
	DefaultChunkSize = 40 << 10

	previewLimit = 200
)

// Codec carries the chunking thresholds. The zero value is not usable; use New.
type Codec struct {
	chunkThreshold int
	chunkSize      int
}

// New returns a Codec with the given thresholds. Non-positive values fall
// back to the defaults.
func New(chunkThreshold, chunkSize int) *Codec {
	if chunkThreshold <= 0 {
		chunkThreshold = DefaultChunkThreshold
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Codec{chunkThreshold: chunkThreshold, chunkSize: chunkSize}
}

// Split projects a meeting into its metadata row and one blob group per
// content field present. Absent content fields simply produce no blob.
func (c *Codec) Split(m *models.Meeting) (*models.MeetingMetadata, []models.Blob) {
	md := &models.MeetingMetadata{
		ID:              m.ID,
		Title:           m.Title,
		Preview:         preview(m),
		OccurredAt:      m.OccurredAt,
		DurationMinutes: m.DurationMinutes,
		StakeholderIDs:  append([]string(nil), m.StakeholderIDs...),
		CategoryIDs:     append([]string(nil), m.CategoryIDs...),
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		Deleted:         m.Deleted,
		DeletedAt:       m.DeletedAt,
		LastAccessedAt:  m.LastAccessedAt,
		Tier:            m.Tier,
		HasTranscript:   m.Transcript != "",
		HasAnalysis:     m.Analysis != "",
		HasSpeakerData:  m.SpeakerData != "",
		HasNotes:        m.Notes != "",
		ImageCount:      len(m.Images),
	}

	var blobs []models.Blob
	for _, ct := range models.ContentTypes {
		text, ok := contentField(m, ct)
		if !ok {
			continue
		}
		blobs = append(blobs, c.encode(m.ID, ct, text)...)
	}
	return md, blobs
}

// Reconstruct rebuilds a full meeting from its metadata and blobs. Chunked
// content is reordered by index and concatenated. Blobs with an unknown
// content type are ignored so newer writers stay readable.
func (c *Codec) Reconstruct(md *models.MeetingMetadata, blobs []models.Blob) (*models.Meeting, error) {
	m := &models.Meeting{
		ID:              md.ID,
		Title:           md.Title,
		OccurredAt:      md.OccurredAt,
		DurationMinutes: md.DurationMinutes,
		StakeholderIDs:  append([]string(nil), md.StakeholderIDs...),
		CategoryIDs:     append([]string(nil), md.CategoryIDs...),
		Version:         md.Version,
		CreatedAt:       md.CreatedAt,
		UpdatedAt:       md.UpdatedAt,
		Deleted:         md.Deleted,
		DeletedAt:       md.DeletedAt,
		LastAccessedAt:  md.LastAccessedAt,
		Tier:            md.Tier,
	}

	groups := map[models.ContentType][]models.Blob{}
	for _, b := range blobs {
		groups[b.ContentType] = append(groups[b.ContentType], b)
	}

	for ct, group := range groups {
		text, err := assemble(md.ID, ct, group)
		if err != nil {
			return nil, err
		}
		switch ct {
		case models.ContentTranscript:
			m.Transcript = text
		case models.ContentAnalysis:
			m.Analysis = text
		case models.ContentSpeakerData:
			m.SpeakerData = text
		case models.ContentNotes:
			m.Notes = text
		case models.ContentImages:
			var images []string
			if err := json.Unmarshal([]byte(text), &images); err != nil {
				return nil, fmt.Errorf("decoding images for %s: %w", md.ID, err)
			}
			m.Images = images
		default:
			// unknown content kind written by a newer version; skip
		}
	}
	return m, nil
}

// encode turns one content field into its blob rows, chunking if the
// serialized size exceeds the threshold.
func (c *Codec) encode(meetingID string, ct models.ContentType, text string) []models.Blob {
	if len(text) <= c.chunkThreshold {
		return []models.Blob{{
			MeetingID:   meetingID,
			ContentType: ct,
			ChunkIndex:  0,
			ChunkCount:  1,
			Text:        text,
			SizeBytes:   int64(len(text)),
		}}
	}

	parts := chunkString(text, c.chunkSize)
	blobs := make([]models.Blob, 0, len(parts))
	for i, p := range parts {
		blobs = append(blobs, models.Blob{
			MeetingID:   meetingID,
			ContentType: ct,
			ChunkIndex:  i,
			ChunkCount:  len(parts),
			Text:        p,
			SizeBytes:   int64(len(p)),
		})
	}
	return blobs
}

// assemble validates chunk ordering and concatenates a blob group. Duplicate
// or missing indexes are a data-integrity fault.
func assemble(meetingID string, ct models.ContentType, group []models.Blob) (string, error) {
	sort.Slice(group, func(i, j int) bool { return group[i].ChunkIndex < group[j].ChunkIndex })

	var out []byte
	for i, b := range group {
		if b.ChunkIndex != i {
			reason := "missing chunk"
			if i > 0 && b.ChunkIndex == group[i-1].ChunkIndex {
				reason = "duplicate chunk"
			}
			return "", &common.ChunkIntegrityError{
				RecordID:    meetingID,
				ContentType: string(ct),
				Index:       b.ChunkIndex,
				Reason:      reason,
			}
		}
		out = append(out, b.Text...)
	}
	if n := len(group); n > 0 && group[0].ChunkCount > n {
		return "", &common.ChunkIntegrityError{
			RecordID:    meetingID,
			ContentType: string(ct),
			Index:       n,
			Reason:      "missing chunk",
		}
	}
	return string(out), nil
}

// contentField extracts the serialized text for one content kind. The second
// return is false when the field is absent from the record.
func contentField(m *models.Meeting, ct models.ContentType) (string, bool) {
	switch ct {
	case models.ContentTranscript:
		return m.Transcript, m.Transcript != ""
	case models.ContentAnalysis:
		return m.Analysis, m.Analysis != ""
	case models.ContentSpeakerData:
		return m.SpeakerData, m.SpeakerData != ""
	case models.ContentNotes:
		return m.Notes, m.Notes != ""
	case models.ContentImages:
		if len(m.Images) == 0 {
			return "", false
		}
		data, err := json.Marshal(m.Images)
		if err != nil {
			// []string cannot fail to marshal
			return "", false
		}
		return string(data), true
	}
	return "", false
}

// chunkString splits s into pieces of at most size bytes, backing off to the
// previous rune boundary so no UTF-8 sequence is cut in half.
func chunkString(s string, size int) []string {
	var parts []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		parts = append(parts, s)
	}
	return parts
}

// preview derives the metadata preview string from the first content present,
// preferring notes over transcript.
func preview(m *models.Meeting) string {
	src := m.Notes
	if src == "" {
		src = m.Transcript
	}
	if src == "" {
		return ""
	}
	runes := []rune(src)
	if len(runes) <= previewLimit {
		return src
	}
	return string(runes[:previewLimit])
}
