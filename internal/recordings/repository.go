package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echoguard/backend/internal/models"
)

// ErrNotFound is returned when no recording exists for the given id.
var ErrNotFound = errors.New("recording not found")

const recordingColumns = `recording_id, user_id, file_name, file_type, description, storage_key, status,
	compliance_score, COALESCE(transcription_job_name,''), created_at, updated_at`

// Repository handles recording persistence (the status store).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new recording in its initial state.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (recording_id, user_id, file_name, file_type, description, storage_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, rec.RecordingID, rec.UserID, rec.FileName, rec.FileType, rec.Description, rec.StorageKey, string(rec.Status)).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// Get returns a recording by id.
func (r *Repository) Get(ctx context.Context, id string) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE recording_id = $1`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// Transition moves a recording from one status to another in a single conditional update.
// It reports false when the recording is not (or no longer) in the from state.
func (r *Repository) Transition(ctx context.Context, id string, from, to models.Status, patch models.TransitionPatch) (bool, error) {
	if err := models.ValidateTransition(from, to); err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, transitionSQL, transitionArgs(id, from, to, patch)...)
	if err != nil {
		return false, fmt.Errorf("transition recording %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns up to limit recordings of a user, most recent first, starting after cursor.
// The returned cursor is nil when no further page exists.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int, after *Cursor) ([]models.Recording, *Cursor, error) {
	q, args := listQuery(userID, limit, after)
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	list := make([]models.Recording, 0, limit)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan recording: %w", err)
		}
		list = append(list, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list recordings: %w", err)
	}
	page, next := Page(list, limit)
	return page, next, nil
}

// transitionSQL is the compare-and-set update: it matches only while status still equals from.
const transitionSQL = `UPDATE recordings
	SET status = $1,
		updated_at = NOW(),
		compliance_score = COALESCE($2, compliance_score),
		transcription_job_name = COALESCE(NULLIF($3, ''), transcription_job_name)
	WHERE recording_id = $4 AND status = $5`

func transitionArgs(id string, from, to models.Status, patch models.TransitionPatch) []any {
	return []any{string(to), patch.ComplianceScore, patch.TranscriptionJobName, id, string(from)}
}

// listQuery builds the keyset page query. It fetches limit+1 rows so Page can tell
// whether another page follows.
func listQuery(userID string, limit int, after *Cursor) (string, []any) {
	args := []any{userID}
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE user_id = $1`
	if after != nil {
		q += ` AND (created_at, recording_id) < ($2, $3)`
		args = append(args, after.CreatedAt, after.RecordingID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, recording_id DESC LIMIT %d`, limit+1)
	return q, args
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	var score *int32
	err := row.Scan(&rec.RecordingID, &rec.UserID, &rec.FileName, &rec.FileType, &rec.Description, &rec.StorageKey,
		&rec.Status, &score, &rec.TranscriptionJobName, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if score != nil {
		s := int(*score)
		rec.ComplianceScore = &s
	}
	return &rec, nil
}
