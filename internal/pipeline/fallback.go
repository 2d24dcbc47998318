package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DegradedScore is the score substituted for an analyzer that failed.
const DegradedScore = 50

// DefaultAnalyzerTimeout bounds one analyzer call when no timeout is configured.
const DefaultAnalyzerTimeout = 60 * time.Second

// Fallback wraps an Analyzer so that errors, timeouts and empty answers are
// replaced by DegradedVerdict.
type Fallback struct {
	next    Analyzer
	timeout time.Duration
	logger  *zap.Logger
}

// WithFallback wraps a with the degrade-not-fail policy.
func WithFallback(a Analyzer, timeout time.Duration, logger *zap.Logger) *Fallback {
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{next: a, timeout: timeout, logger: logger}
}

func (f *Fallback) Name() string { return f.next.Name() }

// Analyze returns a verdict and a nil error unless ctx itself ends. Only the
// per-call timeout and analyzer failures degrade; cancellation of ctx is returned.
func (f *Fallback) Analyze(ctx context.Context, transcript, description string) (*Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	v, err := f.next.Analyze(callCtx, transcript, description)
	if err == nil && v == nil {
		err = errors.New("empty verdict")
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s analyzer interrupted: %w", f.next.Name(), ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", f.timeout, err)
		}
		terr := &TransientDependencyError{Dependency: f.next.Name(), Err: err}
		f.logger.Warn("analyzer degraded", zap.String("analyzer", f.next.Name()), zap.Error(terr))
		return DegradedVerdict(f.next.Name(), terr), nil
	}
	return v, nil
}

// DegradedVerdict is the fixed default for a failed analyzer.
func DegradedVerdict(name string, cause error) *Verdict {
	summary := fmt.Sprintf("Error analyzing transcript with %s analyzer", name)
	raw, _ := json.Marshal(map[string]any{
		"score":    DegradedScore,
		"issues":   []any{},
		"summary":  summary,
		"degraded": true,
		"error":    errString(cause),
	})
	return &Verdict{
		Score:   DegradedScore,
		Issues:  nil,
		Summary: summary,
		Raw:     raw,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
