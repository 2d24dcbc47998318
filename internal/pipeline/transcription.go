package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/pkg/storage"
	"go.uber.org/zap"
)

// Trigger starts the transcription job for an uploaded recording. The job name is
// stored in the same write that moves the record to TRANSCRIBING.
func (p *Pipeline) Trigger(ctx context.Context, ev models.AudioReady) (Outcome, error) {
	if ev.RecordingID == "" {
		return OutcomeFailed, malformed(models.TopicAudioReady, "recordingId is required")
	}
	if ev.StorageKey == "" {
		return OutcomeFailed, malformed(models.TopicAudioReady, "storageKey is required")
	}
	bucket := ev.Bucket
	if bucket == "" {
		bucket = p.cfg.AudioBucket
	}
	log := p.logger.With(zap.String("stage", "trigger"), zap.String("recording_id", ev.RecordingID))

	jobName := JobName(ev.RecordingID, p.now())
	applied, err := p.status.Transition(ctx, ev.RecordingID, models.StatusPendingUpload, models.StatusTranscribing,
		models.TransitionPatch{TranscriptionJobName: jobName})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("transition to %s: %w", models.StatusTranscribing, err)
	}
	if !applied {
		p.duplicate("trigger", ev.RecordingID, string(models.StatusPendingUpload))
		return OutcomeDuplicate, nil
	}

	job := TranscriptionJob{
		Name:         jobName,
		MediaURI:     fmt.Sprintf("s3://%s/%s", bucket, ev.StorageKey),
		MediaFormat:  MediaFormat(ev.StorageKey),
		OutputBucket: p.cfg.TranscriptBucket,
		OutputKey:    storage.TranscriptKey(ev.RecordingID),
	}
	if err := p.transcriber.StartJob(ctx, job); err != nil {
		if _, terr := p.markError(ctx, log, ev.RecordingID, models.StatusTranscribing, models.StatusTranscriptionError); terr != nil {
			err = errors.Join(err, terr)
			log.Error("transcription job submission failed, recording left in TRANSCRIBING",
				zap.String("job_name", jobName), zap.Error(err))
			return OutcomeFailed, fmt.Errorf("submit transcription job %s: %w", jobName, err)
		}
		log.Error("transcription job submission failed", zap.String("job_name", jobName), zap.Error(err))
		return OutcomeFailed, &HardPreconditionError{
			RecordingID: ev.RecordingID,
			Status:      string(models.StatusTranscriptionError),
			Err:         err,
		}
	}

	log.Info("transcription job started",
		zap.String("job_name", jobName),
		zap.String("media_format", job.MediaFormat),
		zap.String("outcome", string(OutcomeAdvanced)))
	return OutcomeAdvanced, nil
}

// Complete handles a transcription job status report.
func (p *Pipeline) Complete(ctx context.Context, ev models.TranscriptionJobStatus) (Outcome, error) {
	if ev.JobName == "" {
		return OutcomeFailed, malformed(models.TopicTranscriptionStatus, "jobName is required")
	}
	id, err := RecordingIDFromJobName(ev.JobName)
	if err != nil {
		return OutcomeFailed, malformed(models.TopicTranscriptionStatus, err.Error())
	}
	log := p.logger.With(zap.String("stage", "completion"), zap.String("recording_id", id),
		zap.String("job_name", ev.JobName))

	switch ev.JobStatus {
	case models.JobStatusCompleted:
		applied, err := p.status.Transition(ctx, id, models.StatusTranscribing, models.StatusTranscribed, models.TransitionPatch{})
		if err != nil {
			return OutcomeFailed, fmt.Errorf("transition to %s: %w", models.StatusTranscribed, err)
		}
		if !applied {
			p.duplicate("completion", id, string(models.StatusTranscribing))
			return OutcomeDuplicate, nil
		}
		req := models.AnalysisRequested{
			RecordingID:   id,
			TranscriptKey: storage.TranscriptKey(id),
			Bucket:        p.cfg.TranscriptBucket,
		}
		if err := p.publisher.Publish(ctx, models.TopicAnalysisRequested, req); err != nil {
			// TRANSCRIBED is durable here; a redelivered event is a duplicate and will not republish.
			log.Error("analysis request not published, recording left in TRANSCRIBED", zap.Error(err))
			return OutcomeAdvanced, nil
		}
		log.Info("transcription completed", zap.String("outcome", string(OutcomeAdvanced)))
		return OutcomeAdvanced, nil

	case models.JobStatusFailed:
		applied, err := p.status.Transition(ctx, id, models.StatusTranscribing, models.StatusTranscriptionFailed, models.TransitionPatch{})
		if err != nil {
			return OutcomeFailed, fmt.Errorf("transition to %s: %w", models.StatusTranscriptionFailed, err)
		}
		if !applied {
			p.duplicate("completion", id, string(models.StatusTranscribing))
			return OutcomeDuplicate, nil
		}
		log.Warn("transcription job failed", zap.String("outcome", string(OutcomeBusinessFailure)))
		return OutcomeBusinessFailure, &BusinessFailure{RecordingID: id, JobName: ev.JobName}

	default:
		log.Debug("ignoring non-terminal job status", zap.String("job_status", ev.JobStatus))
		return OutcomeIgnored, nil
	}
}
