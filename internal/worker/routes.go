package worker

import (
	"context"
	"errors"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/pipeline"
	"github.com/echoguard/backend/internal/realtime"
)

// Register wires every pipeline topic to its stage.
func Register(w *Worker, p *pipeline.Pipeline, n *realtime.Notifier) {
	w.Handle(models.TopicAudioReady, Decode(p.Trigger))
	w.Handle(models.TopicTranscriptionStatus, Decode(p.Complete))
	w.Handle(models.TopicAnalysisRequested, Decode(p.Analyze))
	w.Handle(models.TopicAnalysisCompleted, Decode(notification(models.TopicAnalysisCompleted, n.AnalysisCompleted)))
	w.Handle(models.TopicComplianceAlert, Decode(notification(models.TopicComplianceAlert, n.ComplianceAlert)))
}

// notification turns a fan-out call into a stage function.
func notification[T any](topic string, fn func(context.Context, T) error) func(context.Context, T) (pipeline.Outcome, error) {
	return func(ctx context.Context, ev T) (pipeline.Outcome, error) {
		if err := fn(ctx, ev); err != nil {
			if errors.Is(err, realtime.ErrIncompleteEvent) {
				return pipeline.OutcomeFailed, &pipeline.MalformedEventError{Topic: topic, Reason: err.Error()}
			}
			return pipeline.OutcomeFailed, err
		}
		return pipeline.OutcomeAdvanced, nil
	}
}
