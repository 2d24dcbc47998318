//go:build integration

package recordings

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/results"
	"github.com/echoguard/backend/pkg/database"
)

// Run with: ECHOGUARD_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/recordings/
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("ECHOGUARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ECHOGUARD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func seedRecording(t *testing.T, repo *Repository, userID string) *models.Recording {
	t.Helper()
	id := uuid.NewString()
	rec := &models.Recording{
		RecordingID: id,
		UserID:      userID,
		FileName:    "call.mp3",
		FileType:    "mp3",
		StorageKey:  userID + "/" + id + "/call.mp3",
		Status:      models.StatusPendingUpload,
	}
	require.NoError(t, repo.Create(context.Background(), rec))
	return rec
}

func TestRepository_TransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestPool(t))
	rec := seedRecording(t, repo, "user-"+uuid.NewString())

	applied, err := repo.Transition(ctx, rec.RecordingID, models.StatusPendingUpload, models.StatusTranscribing,
		models.TransitionPatch{TranscriptionJobName: "echoguard-x-1"})
	require.NoError(t, err)
	assert.True(t, applied)

	// A second writer expecting the old state loses.
	applied, err = repo.Transition(ctx, rec.RecordingID, models.StatusPendingUpload, models.StatusTranscribing,
		models.TransitionPatch{TranscriptionJobName: "echoguard-x-2"})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.Get(ctx, rec.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTranscribing, got.Status)
	assert.Equal(t, "echoguard-x-1", got.TranscriptionJobName)
	assert.Nil(t, got.ComplianceScore)

	for _, step := range [][2]models.Status{
		{models.StatusTranscribing, models.StatusTranscribed},
		{models.StatusTranscribed, models.StatusAnalyzing},
	} {
		applied, err = repo.Transition(ctx, rec.RecordingID, step[0], step[1], models.TransitionPatch{})
		require.NoError(t, err)
		require.True(t, applied)
	}
	score := 64
	applied, err = repo.Transition(ctx, rec.RecordingID, models.StatusAnalyzing, models.StatusCompleted,
		models.TransitionPatch{ComplianceScore: &score})
	require.NoError(t, err)
	require.True(t, applied)

	got, err = repo.Get(ctx, rec.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.ComplianceScore)
	assert.Equal(t, 64, *got.ComplianceScore)
	assert.Equal(t, "echoguard-x-1", got.TranscriptionJobName)

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_ListByUserPagesExhaustively(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestPool(t))
	user := "user-" + uuid.NewString()
	want := map[string]bool{}
	for i := 0; i < 7; i++ {
		want[seedRecording(t, repo, user).RecordingID] = true
	}
	seedRecording(t, repo, "other-"+uuid.NewString())

	seen := map[string]bool{}
	var after *Cursor
	var prev *models.Recording
	for page := 0; ; page++ {
		require.Less(t, page, 10, "pagination does not terminate")
		list, next, err := repo.ListByUser(ctx, user, 3, after)
		require.NoError(t, err)
		for i := range list {
			rec := list[i]
			assert.False(t, seen[rec.RecordingID], "duplicate %s", rec.RecordingID)
			seen[rec.RecordingID] = true
			if prev != nil {
				assert.True(t, CursorFor(*prev).Precedes(rec), "order broken at %s", rec.RecordingID)
			}
			prev = &rec
		}
		if next == nil {
			break
		}
		// Round-trip the token the way clients do.
		after, err = DecodeCursor(next.Encode())
		require.NoError(t, err)
	}
	assert.Equal(t, want, seen)
}

func TestResults_PutIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	rec := seedRecording(t, NewRepository(pool), "user-"+uuid.NewString())
	store := results.NewRepository(pool)

	first := &models.AnalysisResult{
		RecordingID:      rec.RecordingID,
		Transcript:       "hello",
		AnalyzerAResults: []byte(`{"overall_score":80}`),
		AnalyzerBResults: []byte(`{"financial_compliance_score":60}`),
		Issues:           []models.Issue{{Description: "no disclosure", RiskLevel: "High", Source: models.SourceRules}},
		ComplianceScore:  68,
		AnalyzerASummary: "a",
		AnalyzerBSummary: "b",
		Timestamp:        time.Now().UTC().Truncate(time.Microsecond),
	}
	stored, err := store.Put(ctx, first)
	require.NoError(t, err)
	assert.True(t, stored)

	second := *first
	second.ComplianceScore = 99
	stored, err = store.Put(ctx, &second)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := store.Get(ctx, rec.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, 68, got.ComplianceScore)
	assert.Equal(t, first.Issues, got.Issues)
	assert.JSONEq(t, `{"overall_score":80}`, string(got.AnalyzerAResults))
	assert.True(t, first.Timestamp.Equal(got.Timestamp), fmt.Sprint(got.Timestamp))

	_, err = store.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, results.ErrNotFound)
}
