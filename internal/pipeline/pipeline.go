package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/echoguard/backend/internal/models"
)

// DefaultUploadURLExpiry is how long an upload URL stays valid.
const DefaultUploadURLExpiry = 5 * time.Minute

// DefaultErrorWriteTimeout bounds the retries of a write to a terminal *_ERROR state.
const DefaultErrorWriteTimeout = 5 * time.Second

// Config holds the buckets and limits the stages need.
type Config struct {
	AudioBucket      string
	TranscriptBucket string
	UploadURLExpiry  time.Duration
	AnalyzerTimeout  time.Duration
	// ErrorWriteTimeout bounds how long a failed stage keeps retrying its *_ERROR write.
	ErrorWriteTimeout time.Duration
}

// Deps are the collaborators injected into the stages.
type Deps struct {
	Status      StatusStore
	Results     ResultsStore
	Objects     ObjectReader
	Signer      UploadSigner
	Publisher   Publisher
	Transcriber Transcriber
	// AnalyzerA is the general-purpose analyzer, AnalyzerB the rules analyzer.
	AnalyzerA Analyzer
	AnalyzerB Analyzer
}

// Pipeline runs the upload, transcription trigger, transcription completion and
// analysis stages. Stages keep no state between calls; every call is safe to repeat.
type Pipeline struct {
	status      StatusStore
	results     ResultsStore
	objects     ObjectReader
	signer      UploadSigner
	publisher   Publisher
	transcriber Transcriber
	analyzerA   Analyzer
	analyzerB   Analyzer
	cfg         Config
	now         func() time.Time
	logger      *zap.Logger
}

// New builds a Pipeline. Both analyzers are wrapped with the degrade-not-fail fallback.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UploadURLExpiry <= 0 {
		cfg.UploadURLExpiry = DefaultUploadURLExpiry
	}
	if cfg.ErrorWriteTimeout <= 0 {
		cfg.ErrorWriteTimeout = DefaultErrorWriteTimeout
	}
	p := &Pipeline{
		status:      deps.Status,
		results:     deps.Results,
		objects:     deps.Objects,
		signer:      deps.Signer,
		publisher:   deps.Publisher,
		transcriber: deps.Transcriber,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
	if deps.AnalyzerA != nil {
		p.analyzerA = WithFallback(deps.AnalyzerA, cfg.AnalyzerTimeout, logger)
	}
	if deps.AnalyzerB != nil {
		p.analyzerB = WithFallback(deps.AnalyzerB, cfg.AnalyzerTimeout, logger)
	}
	return p
}

// SetClock replaces the time source (tests).
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

func (p *Pipeline) duplicate(stage, recordingID string, expected string) {
	p.logger.Info("duplicate or out-of-order event, skipping",
		zap.String("stage", stage),
		zap.String("recording_id", recordingID),
		zap.String("expected_status", expected),
		zap.String("outcome", string(OutcomeDuplicate)))
}

// markError moves a recording from its in-progress state to a terminal *_ERROR state,
// retrying the write for up to ErrorWriteTimeout. applied is false when the record had
// already left from.
func (p *Pipeline) markError(ctx context.Context, log *zap.Logger, id string, from, to models.Status) (bool, error) {
	var applied bool
	write := func() error {
		ok, err := p.status.Transition(ctx, id, from, to, models.TransitionPatch{})
		applied = ok
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = p.cfg.ErrorWriteTimeout
	notify := func(err error, next time.Duration) {
		log.Warn("error state write failed, retrying", zap.String("status", string(to)), zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(write, backoff.WithContext(bo, ctx), notify); err != nil {
		return false, fmt.Errorf("transition to %s: %w", to, err)
	}
	return applied, nil
}
