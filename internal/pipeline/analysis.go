package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/results"
	"github.com/echoguard/backend/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// transcribeOutput is the part of the transcription job output the analysis stage reads.
type transcribeOutput struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// ExtractTranscript returns results.transcripts[0].transcript from a transcription output document.
func ExtractTranscript(body []byte) (string, error) {
	var out transcribeOutput
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	if len(out.Results.Transcripts) == 0 {
		return "", errors.New("transcript document has no transcripts")
	}
	return out.Results.Transcripts[0].Transcript, nil
}

// Analyze scores a transcribed recording with both analyzers, stores the result,
// completes the recording and publishes the notification events.
//
// A recording found in ANALYZING was left there by an interrupted delivery. It is
// resumed: completed from the stored result when one exists, re-analyzed otherwise.
func (p *Pipeline) Analyze(ctx context.Context, ev models.AnalysisRequested) (Outcome, error) {
	if ev.RecordingID == "" {
		return OutcomeFailed, malformed(models.TopicAnalysisRequested, "recordingId is required")
	}
	id := ev.RecordingID
	src := transcriptRef{bucket: ev.Bucket, key: ev.TranscriptKey}
	if src.key == "" {
		src.key = storage.TranscriptKey(id)
	}
	if src.bucket == "" {
		src.bucket = p.cfg.TranscriptBucket
	}
	log := p.logger.With(zap.String("stage", "analysis"), zap.String("recording_id", id))

	applied, err := p.status.Transition(ctx, id, models.StatusTranscribed, models.StatusAnalyzing, models.TransitionPatch{})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("transition to %s: %w", models.StatusAnalyzing, err)
	}
	if !applied {
		return p.resumeAnalysis(ctx, log, id, src)
	}

	rec, err := p.status.Get(ctx, id)
	if err != nil {
		return p.abortAnalysis(ctx, log, id, fmt.Errorf("load recording: %w", err))
	}
	return p.runAnalysis(ctx, log, rec, src)
}

type transcriptRef struct {
	bucket string
	key    string
}

func (p *Pipeline) resumeAnalysis(ctx context.Context, log *zap.Logger, id string, src transcriptRef) (Outcome, error) {
	rec, err := p.status.Get(ctx, id)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load recording: %w", err)
	}
	if rec.Status != models.StatusAnalyzing {
		p.duplicate("analysis", id, string(models.StatusTranscribed))
		return OutcomeDuplicate, nil
	}
	res, err := p.results.Get(ctx, id)
	switch {
	case err == nil:
		log.Info("resuming analysis from stored result", zap.Int("compliance_score", res.ComplianceScore))
		return p.completeAnalysis(ctx, log, rec, res)
	case errors.Is(err, results.ErrNotFound):
		log.Info("resuming interrupted analysis")
		return p.runAnalysis(ctx, log, rec, src)
	default:
		return OutcomeFailed, fmt.Errorf("load analysis result: %w", err)
	}
}

// runAnalysis scores a recording already in ANALYZING and completes it.
func (p *Pipeline) runAnalysis(ctx context.Context, log *zap.Logger, rec *models.Recording, src transcriptRef) (Outcome, error) {
	id := rec.RecordingID
	body, err := p.objects.GetObject(ctx, src.bucket, src.key)
	if err != nil {
		return p.abortAnalysis(ctx, log, id, fmt.Errorf("fetch transcript: %w", err))
	}
	transcript, err := ExtractTranscript(body)
	if err != nil {
		return p.abortAnalysis(ctx, log, id, err)
	}

	var va, vb *Verdict
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := p.analyzerA.Analyze(gctx, transcript, rec.Description)
		va = v
		return err
	})
	g.Go(func() error {
		v, err := p.analyzerB.Analyze(gctx, transcript, rec.Description)
		vb = v
		return err
	})
	if err := g.Wait(); err != nil {
		// Only cancellation of ctx reaches here; the recording stays in ANALYZING for redelivery.
		log.Warn("analysis interrupted", zap.Error(err))
		return OutcomeFailed, fmt.Errorf("analyze recording %s: %w", id, err)
	}

	score := Aggregate(va.Score, vb.Score)
	res := &models.AnalysisResult{
		RecordingID:      id,
		Transcript:       transcript,
		AnalyzerAResults: va.Raw,
		AnalyzerBResults: vb.Raw,
		Issues:           MergeIssues(p.analyzerA.Name(), va.Issues, p.analyzerB.Name(), vb.Issues),
		ComplianceScore:  score,
		AnalyzerASummary: va.Summary,
		AnalyzerBSummary: vb.Summary,
		Timestamp:        p.now(),
	}
	stored, err := p.results.Put(ctx, res)
	if err != nil {
		return p.abortAnalysis(ctx, log, id, fmt.Errorf("store analysis result: %w", err))
	}
	if !stored {
		// A concurrent delivery stored first; complete with its score.
		first, err := p.results.Get(ctx, id)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("load analysis result: %w", err)
		}
		log.Warn("analysis result already stored, keeping the first one")
		res = first
	}
	return p.completeAnalysis(ctx, log, rec, res)
}

// completeAnalysis moves the recording to COMPLETED with the stored score and notifies.
// A failed write is retryable: the redelivered event resumes from the stored result.
func (p *Pipeline) completeAnalysis(ctx context.Context, log *zap.Logger, rec *models.Recording, res *models.AnalysisResult) (Outcome, error) {
	score := res.ComplianceScore
	applied, err := p.status.Transition(ctx, rec.RecordingID, models.StatusAnalyzing, models.StatusCompleted,
		models.TransitionPatch{ComplianceScore: &score})
	if err != nil {
		log.Error("complete recording failed", zap.Error(err))
		return OutcomeFailed, fmt.Errorf("transition to %s: %w", models.StatusCompleted, err)
	}
	if !applied {
		p.duplicate("analysis", rec.RecordingID, string(models.StatusAnalyzing))
		return OutcomeDuplicate, nil
	}

	p.notify(ctx, log, rec, res)
	log.Info("analysis completed",
		zap.Int("compliance_score", score),
		zap.Int("issues", len(res.Issues)),
		zap.String("outcome", string(OutcomeAdvanced)))
	return OutcomeAdvanced, nil
}

// notify publishes the completion event and, below the threshold, the alert.
// Publish failures are logged; the recording is already COMPLETED.
func (p *Pipeline) notify(ctx context.Context, log *zap.Logger, rec *models.Recording, res *models.AnalysisResult) {
	ts := res.Timestamp.Unix()
	completed := models.AnalysisCompleted{
		RecordingID:     rec.RecordingID,
		UserID:          rec.UserID,
		ComplianceScore: res.ComplianceScore,
		Timestamp:       ts,
	}
	if err := p.publisher.Publish(ctx, models.TopicAnalysisCompleted, completed); err != nil {
		log.Error("completion notification not published", zap.Error(err))
	}
	if !ShouldAlert(res.ComplianceScore) {
		return
	}
	issues := res.Issues
	if issues == nil {
		issues = []models.Issue{}
	}
	alert := models.ComplianceAlert{
		RecordingID:     rec.RecordingID,
		ComplianceScore: res.ComplianceScore,
		Issues:          issues,
		Summary:         AlertSummary(res.AnalyzerASummary, res.AnalyzerBSummary),
		Timestamp:       ts,
	}
	if err := p.publisher.Publish(ctx, models.TopicComplianceAlert, alert); err != nil {
		log.Error("compliance alert not published", zap.Error(err))
		return
	}
	log.Warn("compliance alert raised", zap.Int("compliance_score", res.ComplianceScore))
}

// abortAnalysis moves the recording to ANALYSIS_ERROR. When ctx has ended or the
// error write cannot be made, the error is retryable and the recording stays in ANALYZING.
func (p *Pipeline) abortAnalysis(ctx context.Context, log *zap.Logger, id string, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		log.Warn("analysis interrupted", zap.Error(cause))
		return OutcomeFailed, fmt.Errorf("analyze recording %s: %w", id, cause)
	}
	if _, err := p.markError(ctx, log, id, models.StatusAnalyzing, models.StatusAnalysisError); err != nil {
		err = errors.Join(cause, err)
		log.Error("analysis failed, recording left in ANALYZING", zap.Error(err), zap.String("outcome", string(OutcomeFailed)))
		return OutcomeFailed, err
	}
	log.Error("analysis aborted", zap.Error(cause), zap.String("outcome", string(OutcomeFailed)))
	return OutcomeFailed, &HardPreconditionError{
		RecordingID: id,
		Status:      string(models.StatusAnalysisError),
		Err:         cause,
	}
}
