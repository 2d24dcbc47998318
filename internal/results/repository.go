// Package results persists analysis results (the results store).
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echoguard/backend/internal/models"
)

// ErrNotFound is returned when a recording has no analysis result.
var ErrNotFound = errors.New("analysis result not found")

// Repository handles analysis result persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a results repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Put stores a result. Results are write-once: a second put for the same recording is a no-op
// and reports false.
func (r *Repository) Put(ctx context.Context, res *models.AnalysisResult) (bool, error) {
	issues, err := json.Marshal(res.Issues)
	if err != nil {
		return false, fmt.Errorf("marshal issues: %w", err)
	}
	const q = `INSERT INTO analysis_results (recording_id, transcript, analyzer_a_results, analyzer_b_results, issues,
			compliance_score, analyzer_a_summary, analyzer_b_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (recording_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, res.RecordingID, res.Transcript, []byte(res.AnalyzerAResults), []byte(res.AnalyzerBResults),
		issues, res.ComplianceScore, res.AnalyzerASummary, res.AnalyzerBSummary, res.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert analysis result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the analysis result of a recording.
func (r *Repository) Get(ctx context.Context, recordingID string) (*models.AnalysisResult, error) {
	const q = `SELECT recording_id, transcript, analyzer_a_results, analyzer_b_results, issues, compliance_score,
			analyzer_a_summary, analyzer_b_summary, created_at
		FROM analysis_results WHERE recording_id = $1`
	var res models.AnalysisResult
	var a, b, issues []byte
	err := r.pool.QueryRow(ctx, q, recordingID).Scan(&res.RecordingID, &res.Transcript, &a, &b, &issues,
		&res.ComplianceScore, &res.AnalyzerASummary, &res.AnalyzerBSummary, &res.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis result: %w", err)
	}
	res.AnalyzerAResults = a
	res.AnalyzerBResults = b
	if err := json.Unmarshal(issues, &res.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal issues: %w", err)
	}
	return &res, nil
}
