package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/results"
	"github.com/echoguard/backend/pkg/storage"
)

// memStatus is an in-memory StatusStore with the same compare-and-set semantics as Postgres.
type memStatus struct {
	mu          sync.Mutex
	recs        map[string]models.Recording
	writes      int
	history     map[string][]models.Status
	transErr    error
	getErr      error
	failOnEntry models.Status
}

func newMemStatus() *memStatus {
	return &memStatus{recs: map[string]models.Recording{}, history: map[string][]models.Status{}}
}

func (m *memStatus) Create(_ context.Context, rec *models.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.RecordingID] = *rec
	m.history[rec.RecordingID] = []models.Status{rec.Status}
	return nil
}

func (m *memStatus) Get(_ context.Context, id string) (*models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.recs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &rec, nil
}

func (m *memStatus) Transition(_ context.Context, id string, from, to models.Status, patch models.TransitionPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := models.ValidateTransition(from, to); err != nil {
		return false, err
	}
	if m.transErr != nil && (m.failOnEntry == "" || m.failOnEntry == to) {
		return false, m.transErr
	}
	rec, ok := m.recs[id]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Second)
	if patch.ComplianceScore != nil {
		s := *patch.ComplianceScore
		rec.ComplianceScore = &s
	}
	if patch.TranscriptionJobName != "" {
		rec.TranscriptionJobName = patch.TranscriptionJobName
	}
	m.recs[id] = rec
	m.writes++
	m.history[id] = append(m.history[id], to)
	return true, nil
}

func (m *memStatus) seed(id string, status models.Status) {
	_ = m.Create(context.Background(), &models.Recording{
		RecordingID: id,
		UserID:      "user-1",
		FileName:    "call.mp3",
		Description: "Quarterly advisory call",
		StorageKey:  storage.AudioKey("user-1", id, "call.mp3"),
		Status:      status,
	})
}

func (m *memStatus) status(id string) models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[id].Status
}

type memResults struct {
	mu     sync.Mutex
	recs   map[string]models.AnalysisResult
	err    error
	getErr error
}

func newMemResults() *memResults { return &memResults{recs: map[string]models.AnalysisResult{}} }

func (m *memResults) Put(_ context.Context, res *models.AnalysisResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.recs[res.RecordingID]; ok {
		return false, nil
	}
	m.recs[res.RecordingID] = *res
	return true, nil
}

func (m *memResults) Get(_ context.Context, id string) (*models.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	res, ok := m.recs[id]
	if !ok {
		return nil, results.ErrNotFound
	}
	return &res, nil
}

type memObjects struct {
	objects map[string][]byte
	err     error
}

func (m *memObjects) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, key)
	}
	return body, nil
}

type fakeSigner struct {
	key     string
	expires time.Duration
	err     error
}

func (f *fakeSigner) PresignUpload(_ context.Context, bucket, key, _ string, expires time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.key, f.expires = key, expires
	return "https://" + bucket + ".example/" + key + "?sig=1", nil
}

type published struct {
	topic   string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, published{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.topic)
	}
	return out
}

type fakeTranscriber struct {
	jobs []TranscriptionJob
	err  error
}

func (f *fakeTranscriber) StartJob(_ context.Context, job TranscriptionJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

// stubAnalyzer returns a fixed verdict or error; delay simulates a slow dependency.
type stubAnalyzer struct {
	name    string
	verdict *Verdict
	err     error
	delay   time.Duration
	calls   int
	mu      sync.Mutex
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Analyze(ctx context.Context, _, _ string) (*Verdict, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.verdict, s.err
}

func scored(name string, score float64, issues ...models.Issue) *stubAnalyzer {
	raw, _ := json.Marshal(map[string]any{"score": score})
	return &stubAnalyzer{name: name, verdict: &Verdict{
		Score:   score,
		Issues:  issues,
		Summary: name + " summary",
		Raw:     raw,
	}}
}

func transcriptDoc(text string) []byte {
	return []byte(`{"jobName":"x","results":{"transcripts":[{"transcript":"` + text + `"}],"items":[]}}`)
}

type harness struct {
	p           *Pipeline
	status      *memStatus
	results     *memResults
	objects     *memObjects
	signer      *fakeSigner
	pub         *fakePublisher
	transcriber *fakeTranscriber
}

const (
	testAudioBucket      = "audio"
	testTranscriptBucket = "transcripts"
)

func newHarness(a, b Analyzer) *harness {
	h := &harness{
		status:      newMemStatus(),
		results:     newMemResults(),
		objects:     &memObjects{objects: map[string][]byte{}},
		signer:      &fakeSigner{},
		pub:         &fakePublisher{},
		transcriber: &fakeTranscriber{},
	}
	if a == nil {
		a = scored(models.SourceLLM, 90)
	}
	if b == nil {
		b = scored(models.SourceRules, 80)
	}
	h.p = New(Deps{
		Status:      h.status,
		Results:     h.results,
		Objects:     h.objects,
		Signer:      h.signer,
		Publisher:   h.pub,
		Transcriber: h.transcriber,
		AnalyzerA:   a,
		AnalyzerB:   b,
	}, Config{
		AudioBucket:       testAudioBucket,
		TranscriptBucket:  testTranscriptBucket,
		AnalyzerTimeout:   200 * time.Millisecond,
		ErrorWriteTimeout: 30 * time.Millisecond,
	}, nil)
	h.p.SetClock(func() time.Time { return time.Unix(1700000000, 0).UTC() })
	return h
}

func (h *harness) putTranscript(id, text string) {
	h.objects.objects[testTranscriptBucket+"/"+storage.TranscriptKey(id)] = transcriptDoc(text)
}
