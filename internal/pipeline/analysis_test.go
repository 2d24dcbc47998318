package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echoguard/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analysisEvent(id string) models.AnalysisRequested {
	return models.AnalysisRequested{RecordingID: id, TranscriptKey: id + "/transcript.json", Bucket: testTranscriptBucket}
}

func TestAnalyze(t *testing.T) {
	a := scored(models.SourceLLM, 90, models.Issue{Description: "guaranteed returns", RiskLevel: "High"})
	b := scored(models.SourceRules, 80, models.Issue{Description: "no disclosure"})
	h := newHarness(a, b)
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "hello there")

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	rec, _ := h.status.Get(context.Background(), "rec1")
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ComplianceScore)
	assert.Equal(t, 84, *rec.ComplianceScore)

	res, ok := h.results.recs["rec1"]
	require.True(t, ok)
	assert.Equal(t, 84, res.ComplianceScore)
	assert.Equal(t, *rec.ComplianceScore, res.ComplianceScore)
	assert.Equal(t, "hello there", res.Transcript)
	assert.Equal(t, "llm summary", res.AnalyzerASummary)
	assert.Equal(t, "rules summary", res.AnalyzerBSummary)
	assert.JSONEq(t, `{"score":90}`, string(res.AnalyzerAResults))
	require.Len(t, res.Issues, 2)
	assert.Equal(t, models.SourceLLM, res.Issues[0].Source)
	assert.Equal(t, models.SourceRules, res.Issues[1].Source)
	assert.Equal(t, models.DefaultRiskLevel, res.Issues[1].RiskLevel)

	require.Equal(t, []string{models.TopicAnalysisCompleted}, h.pub.topics())
	assert.Equal(t, models.AnalysisCompleted{
		RecordingID:     "rec1",
		UserID:          "user-1",
		ComplianceScore: 84,
		Timestamp:       1700000000,
	}, h.pub.events[0].payload)
	assert.Equal(t, []models.Status{
		models.StatusTranscribed, models.StatusAnalyzing, models.StatusCompleted,
	}, h.status.history["rec1"])
}

func TestAnalyze_Redelivery(t *testing.T) {
	a := scored(models.SourceLLM, 60)
	h := newHarness(a, scored(models.SourceRules, 60))
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")

	_, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	writes, events := h.status.writes, len(h.pub.events)

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, writes, h.status.writes)
	assert.Len(t, h.pub.events, events)
	assert.Equal(t, 1, a.calls, "analyzers are not called again")
}

func TestAnalyze_AlertThreshold(t *testing.T) {
	tests := []struct {
		name      string
		a, b      float64
		wantScore int
		wantAlert bool
	}{
		{"65 alerts", 65, 65, 65, true},
		{"70 does not alert", 70, 70, 70, false},
		{"75 does not alert", 75, 75, 75, false},
		{"100 and 0 alerts", 100, 0, 40, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(scored(models.SourceLLM, tt.a, models.Issue{Description: "x"}), scored(models.SourceRules, tt.b))
			h.status.seed("rec1", models.StatusTranscribed)
			h.putTranscript("rec1", "text")

			_, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
			require.NoError(t, err)

			assert.Equal(t, tt.wantScore, h.results.recs["rec1"].ComplianceScore)
			if !tt.wantAlert {
				assert.Equal(t, []string{models.TopicAnalysisCompleted}, h.pub.topics())
				return
			}
			require.Equal(t, []string{models.TopicAnalysisCompleted, models.TopicComplianceAlert}, h.pub.topics())
			alert, ok := h.pub.events[1].payload.(models.ComplianceAlert)
			require.True(t, ok)
			assert.Equal(t, tt.wantScore, alert.ComplianceScore)
			assert.Equal(t, "llm summary rules summary", alert.Summary)
			require.Len(t, alert.Issues, 1)
			assert.Equal(t, models.SourceLLM, alert.Issues[0].Source)
		})
	}
}

func TestAnalyze_BothAnalyzersFail(t *testing.T) {
	a := &stubAnalyzer{name: models.SourceLLM, err: errors.New("500 from model")}
	b := &stubAnalyzer{name: models.SourceRules, delay: time.Second}
	h := newHarness(a, b)
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	res := h.results.recs["rec1"]
	assert.Equal(t, 50, res.ComplianceScore)
	assert.Empty(t, res.Issues)
	assert.Contains(t, res.AnalyzerASummary, "Error analyzing transcript")
	assert.Contains(t, res.AnalyzerBSummary, "Error analyzing transcript")
	assert.Equal(t, models.StatusCompleted, h.status.status("rec1"))
	assert.Equal(t, []string{models.TopicAnalysisCompleted, models.TopicComplianceAlert}, h.pub.topics())
}

func TestAnalyze_OneAnalyzerDegraded(t *testing.T) {
	h := newHarness(&stubAnalyzer{name: models.SourceLLM, err: errors.New("bad json")}, scored(models.SourceRules, 100))
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")

	_, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, 80, h.results.recs["rec1"].ComplianceScore)
}

func TestAnalyze_TranscriptMissing(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusTranscribed)

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	assert.Equal(t, OutcomeFailed, outcome)
	var hard *HardPreconditionError
	require.ErrorAs(t, err, &hard)
	assert.Equal(t, string(models.StatusAnalysisError), hard.Status)
	assert.False(t, Retryable(err))

	assert.Equal(t, models.StatusAnalysisError, h.status.status("rec1"))
	assert.Empty(t, h.results.recs)
	assert.Empty(t, h.pub.events)
	rec, _ := h.status.Get(context.Background(), "rec1")
	assert.Nil(t, rec.ComplianceScore)
}

func TestAnalyze_TranscriptUnreadable(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusTranscribed)
	h.objects.objects[testTranscriptBucket+"/rec1/transcript.json"] = []byte(`{"results":{"transcripts":[]}}`)

	_, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	var hard *HardPreconditionError
	require.ErrorAs(t, err, &hard)
	assert.Equal(t, models.StatusAnalysisError, h.status.status("rec1"))
}

func TestAnalyze_ResultsStoreFailure(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")
	h.results.err = errors.New("disk full")

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	assert.Equal(t, OutcomeFailed, outcome)
	var hard *HardPreconditionError
	require.ErrorAs(t, err, &hard)
	assert.Equal(t, models.StatusAnalysisError, h.status.status("rec1"))
	assert.Empty(t, h.pub.events)
}

func TestAnalyze_NotYetTranscribed(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusTranscribing)
	h.putTranscript("rec1", "text")

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, models.StatusTranscribing, h.status.status("rec1"))
	assert.Empty(t, h.results.recs)
}

func TestAnalyze_Malformed(t *testing.T) {
	h := newHarness(nil, nil)

	_, err := h.p.Analyze(context.Background(), models.AnalysisRequested{})
	var me *MalformedEventError
	assert.ErrorAs(t, err, &me)
}

func TestAnalyze_DefaultsTranscriptLocation(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")

	outcome, err := h.p.Analyze(context.Background(), models.AnalysisRequested{RecordingID: "rec1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)
}

func TestExtractTranscript(t *testing.T) {
	got, err := ExtractTranscript(transcriptDoc("spoken words"))
	require.NoError(t, err)
	assert.Equal(t, "spoken words", got)

	_, err = ExtractTranscript([]byte("not json"))
	assert.Error(t, err)
}

func TestAnalyze_CancelledMidAnalysis(t *testing.T) {
	a := scored(models.SourceLLM, 95)
	a.delay = 100 * time.Millisecond
	b := scored(models.SourceRules, 95)
	b.delay = 100 * time.Millisecond
	h := newHarness(a, b)
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	outcome, err := h.p.Analyze(ctx, analysisEvent("rec1"))
	assert.Equal(t, OutcomeFailed, outcome)
	require.Error(t, err)
	assert.True(t, Retryable(err))
	assert.Equal(t, models.StatusAnalyzing, h.status.status("rec1"))
	assert.Empty(t, h.results.recs, "no degraded result is stored")
	assert.Empty(t, h.pub.events)

	// Redelivery runs the analysis again.
	outcome, err = h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)
	assert.Equal(t, 95, h.results.recs["rec1"].ComplianceScore)
	assert.Equal(t, "llm summary", h.results.recs["rec1"].AnalyzerASummary)
	assert.Equal(t, models.StatusCompleted, h.status.status("rec1"))
	assert.Equal(t, []string{models.TopicAnalysisCompleted}, h.pub.topics())
}

func TestAnalyze_CompletionWriteFailureResumes(t *testing.T) {
	a := scored(models.SourceLLM, 60)
	h := newHarness(a, scored(models.SourceRules, 60))
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")
	h.status.transErr = errors.New("connection reset")
	h.status.failOnEntry = models.StatusCompleted

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, Retryable(err))
	assert.Equal(t, models.StatusAnalyzing, h.status.status("rec1"))
	require.Contains(t, h.results.recs, "rec1")
	assert.Empty(t, h.pub.events)

	h.status.transErr = nil
	outcome, err = h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)
	assert.Equal(t, 1, a.calls, "completed from the stored result")

	rec, _ := h.status.Get(context.Background(), "rec1")
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ComplianceScore)
	assert.Equal(t, 60, *rec.ComplianceScore)
	assert.Equal(t, []string{models.TopicAnalysisCompleted, models.TopicComplianceAlert}, h.pub.topics())

	// Once completed, further deliveries are duplicates.
	outcome, err = h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, h.pub.events, 2)
}

func TestAnalyze_KeepsFirstStoredResult(t *testing.T) {
	h := newHarness(scored(models.SourceLLM, 90), scored(models.SourceRules, 90))
	h.status.seed("rec1", models.StatusTranscribed)
	h.putTranscript("rec1", "text")
	h.results.recs["rec1"] = models.AnalysisResult{RecordingID: "rec1", ComplianceScore: 40}

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)
	rec, _ := h.status.Get(context.Background(), "rec1")
	require.NotNil(t, rec.ComplianceScore)
	assert.Equal(t, 40, *rec.ComplianceScore)
}

func TestAnalyze_ResultLookupFailureIsRetryable(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusAnalyzing)
	h.results.getErr = errors.New("connection refused")

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, Retryable(err))
	assert.Equal(t, models.StatusAnalyzing, h.status.status("rec1"))
}

func TestAnalyze_ErrorWriteFailureIsRetryable(t *testing.T) {
	h := newHarness(nil, nil)
	h.status.seed("rec1", models.StatusTranscribed)
	h.status.transErr = errors.New("connection reset")
	h.status.failOnEntry = models.StatusAnalysisError

	outcome, err := h.p.Analyze(context.Background(), analysisEvent("rec1"))
	assert.Equal(t, OutcomeFailed, outcome)
	var hard *HardPreconditionError
	assert.False(t, errors.As(err, &hard))
	assert.True(t, Retryable(err))
	assert.Equal(t, models.StatusAnalyzing, h.status.status("rec1"))

	// The redelivered event reaches the terminal state once the store recovers.
	h.status.transErr = nil
	_, err = h.p.Analyze(context.Background(), analysisEvent("rec1"))
	require.ErrorAs(t, err, &hard)
	assert.Equal(t, models.StatusAnalysisError, h.status.status("rec1"))
	assert.Empty(t, h.results.recs)
}
