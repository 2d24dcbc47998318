package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/echoguard/backend/internal/models"
)

// StatusStore holds recording lifecycle records.
type StatusStore interface {
	Create(ctx context.Context, rec *models.Recording) error
	Get(ctx context.Context, id string) (*models.Recording, error)
	// Transition applies from -> to only while the record is still in from.
	Transition(ctx context.Context, id string, from, to models.Status, patch models.TransitionPatch) (bool, error)
}

// ResultsStore holds write-once analysis results. Get reports results.ErrNotFound
// for a recording without a result.
type ResultsStore interface {
	Put(ctx context.Context, res *models.AnalysisResult) (bool, error)
	Get(ctx context.Context, recordingID string) (*models.AnalysisResult, error)
}

// ObjectReader fetches stored objects.
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// UploadSigner issues scoped write URLs for raw audio.
type UploadSigner interface {
	PresignUpload(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error)
}

// Publisher hands events to the next stage.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// TranscriptionJob describes one speech-to-text submission.
type TranscriptionJob struct {
	Name         string
	MediaURI     string
	MediaFormat  string
	OutputBucket string
	OutputKey    string
}

// Transcriber submits transcription jobs. Completion is reported asynchronously.
type Transcriber interface {
	StartJob(ctx context.Context, job TranscriptionJob) error
}

// Verdict is one analyzer's judgement of a transcript.
type Verdict struct {
	Score   float64
	Issues  []models.Issue
	Summary string
	// Raw is the analyzer's structured output as received.
	Raw json.RawMessage
}

// Analyzer scores transcript text for compliance risk. description is the
// recording description, passed as context to the analyzer.
type Analyzer interface {
	// Name is the source tag attached to the analyzer's issues.
	Name() string
	Analyze(ctx context.Context, transcript, description string) (*Verdict, error)
}
