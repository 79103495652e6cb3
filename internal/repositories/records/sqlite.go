package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/notesync/engine/internal/common"
	"github.com/notesync/engine/internal/dbx"
	"github.com/notesync/engine/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const metadataColumns = `id, title, preview, occurred_at, duration_minutes,
	stakeholder_ids, category_ids, version, created_at, updated_at,
	deleted, deleted_at, last_accessed_at, tier,
	has_transcript, has_analysis, has_speaker_data, has_notes, image_count`

func (r *SQLiteRepository) Upsert(ctx context.Context, md *models.MeetingMetadata) error {
	stakeholderIDs, err := json.Marshal(md.StakeholderIDs)
	if err != nil {
		return fmt.Errorf("encoding stakeholder ids: %w", err)
	}
	categoryIDs, err := json.Marshal(md.CategoryIDs)
	if err != nil {
		return fmt.Errorf("encoding category ids: %w", err)
	}

	query := `INSERT INTO meeting_metadata (` + metadataColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			preview = excluded.preview,
			occurred_at = excluded.occurred_at,
			duration_minutes = excluded.duration_minutes,
			stakeholder_ids = excluded.stakeholder_ids,
			category_ids = excluded.category_ids,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at,
			last_accessed_at = excluded.last_accessed_at,
			tier = excluded.tier,
			has_transcript = excluded.has_transcript,
			has_analysis = excluded.has_analysis,
			has_speaker_data = excluded.has_speaker_data,
			has_notes = excluded.has_notes,
			image_count = excluded.image_count
	`
	_, err = r.db.ExecContext(ctx, query,
		md.ID, md.Title, md.Preview, dbx.TimeToMillis(md.OccurredAt), md.DurationMinutes,
		string(stakeholderIDs), string(categoryIDs), md.Version,
		dbx.TimeToMillis(md.CreatedAt), dbx.TimeToMillis(md.UpdatedAt),
		md.Deleted, dbx.TimeToMillis(md.DeletedAt), dbx.TimeToMillis(md.LastAccessedAt), string(md.Tier),
		md.HasTranscript, md.HasAnalysis, md.HasSpeakerData, md.HasNotes, md.ImageCount)
	if err != nil {
		return fmt.Errorf("failed to upsert meeting metadata: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM meeting_stakeholders WHERE meeting_id = ?`, md.ID); err != nil {
		return fmt.Errorf("failed to clear stakeholder associations: %w", err)
	}
	for _, sid := range md.StakeholderIDs {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO meeting_stakeholders (meeting_id, stakeholder_id) VALUES (?, ?)`,
			md.ID, sid)
		if err != nil {
			return fmt.Errorf("failed to insert stakeholder association: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.MeetingMetadata, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+metadataColumns+` FROM meeting_metadata WHERE id = ?`, id)
	md, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select meeting metadata: %w", err)
	}
	return md, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, includeDeleted bool) ([]models.MeetingMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM meeting_metadata`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY occurred_at DESC, id`
	return r.list(ctx, query)
}

func (r *SQLiteRepository) GetByStakeholder(ctx context.Context, stakeholderID string) ([]models.MeetingMetadata, error) {
	query := `SELECT ` + qualifiedMetadataColumns() + `
		FROM meeting_metadata m
		JOIN meeting_stakeholders ms ON ms.meeting_id = m.id
		WHERE ms.stakeholder_id = ? AND m.deleted = 0
		ORDER BY m.occurred_at DESC, m.id`
	return r.list(ctx, query, stakeholderID)
}

func (r *SQLiteRepository) GetByTier(ctx context.Context, tier models.Tier) ([]models.MeetingMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM meeting_metadata
		WHERE tier = ? AND deleted = 0 ORDER BY last_accessed_at, id`
	return r.list(ctx, query, string(tier))
}

func (r *SQLiteRepository) OldestAccessed(ctx context.Context, tier models.Tier, n int) ([]models.MeetingMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM meeting_metadata
		WHERE tier = ? AND deleted = 0 ORDER BY last_accessed_at, id LIMIT ?`
	return r.list(ctx, query, string(tier), n)
}

func (r *SQLiteRepository) UpdateTier(ctx context.Context, id string, tier models.Tier) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meeting_metadata SET tier = ? WHERE id = ?`, string(tier), id)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) TouchAccess(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meeting_metadata SET last_accessed_at = ?, tier = ? WHERE id = ?`,
		dbx.TimeToMillis(at), string(models.TierHot), id)
	if err != nil {
		return fmt.Errorf("failed to touch access time: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error {
	deletedAt := int64(0)
	if deleted {
		deletedAt = dbx.TimeToMillis(at)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE meeting_metadata SET deleted = ?, deleted_at = ?, updated_at = ? WHERE id = ?`,
		deleted, deletedAt, dbx.TimeToMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to set deleted flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) ListDeleted(ctx context.Context) ([]models.MeetingMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM meeting_metadata
		WHERE deleted = 1 ORDER BY deleted_at DESC, id`
	return r.list(ctx, query)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM meeting_stakeholders WHERE meeting_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete stakeholder associations: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM meeting_metadata WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete meeting metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.MeetingMetadata, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select meeting metadata: %w", err)
	}
	defer rows.Close()

	var result []models.MeetingMetadata
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *md)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row scanner) (*models.MeetingMetadata, error) {
	var (
		md                             models.MeetingMetadata
		occurredAt, createdAt          int64
		updatedAt, deletedAt, accessed int64
		stakeholderIDs, categoryIDs    string
		tier                           string
	)
	err := row.Scan(&md.ID, &md.Title, &md.Preview, &occurredAt, &md.DurationMinutes,
		&stakeholderIDs, &categoryIDs, &md.Version, &createdAt, &updatedAt,
		&md.Deleted, &deletedAt, &accessed, &tier,
		&md.HasTranscript, &md.HasAnalysis, &md.HasSpeakerData, &md.HasNotes, &md.ImageCount)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stakeholderIDs), &md.StakeholderIDs); err != nil {
		return nil, fmt.Errorf("decoding stakeholder ids: %w", err)
	}
	if err := json.Unmarshal([]byte(categoryIDs), &md.CategoryIDs); err != nil {
		return nil, fmt.Errorf("decoding category ids: %w", err)
	}
	md.OccurredAt = dbx.TimeFromMillis(occurredAt)
	md.CreatedAt = dbx.TimeFromMillis(createdAt)
	md.UpdatedAt = dbx.TimeFromMillis(updatedAt)
	md.DeletedAt = dbx.TimeFromMillis(deletedAt)
	md.LastAccessedAt = dbx.TimeFromMillis(accessed)
	md.Tier = models.Tier(tier)
	return &md, nil
}

func qualifiedMetadataColumns() string {
	return `m.id, m.title, m.preview, m.occurred_at, m.duration_minutes,
	m.stakeholder_ids, m.category_ids, m.version, m.created_at, m.updated_at,
	m.deleted, m.deleted_at, m.last_accessed_at, m.tier,
	m.has_transcript, m.has_analysis, m.has_speaker_data, m.has_notes, m.image_count`
}
