package transcriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/echoguard/backend/internal/pipeline"
	"go.uber.org/zap"
)

const (
	// LanguageCode is the language every job is transcribed in.
	LanguageCode = types.LanguageCodeEnUs
	// MaxSpeakers is the speaker label limit for diarization.
	MaxSpeakers = 10
)

// StartJobAPI is the subset of the Transcribe client used here.
type StartJobAPI interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
}

// AWS submits jobs to Amazon Transcribe.
type AWS struct {
	api    StartJobAPI
	logger *zap.Logger
}

// NewAWS builds a submitter from an AWS config.
func NewAWS(cfg aws.Config, logger *zap.Logger) *AWS {
	return NewWithAPI(transcribe.NewFromConfig(cfg), logger)
}

// NewWithAPI builds a submitter around an existing client.
func NewWithAPI(api StartJobAPI, logger *zap.Logger) *AWS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWS{api: api, logger: logger}
}

// StartJob submits the job. A job that already exists under the same name counts as submitted.
func (a *AWS) StartJob(ctx context.Context, job pipeline.TranscriptionJob) error {
	in := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(job.Name),
		LanguageCode:         LanguageCode,
		MediaFormat:          types.MediaFormat(job.MediaFormat),
		Media:                &types.Media{MediaFileUri: aws.String(job.MediaURI)},
		Settings: &types.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(MaxSpeakers),
		},
	}
	if job.OutputBucket != "" {
		in.OutputBucketName = aws.String(job.OutputBucket)
		in.OutputKey = aws.String(job.OutputKey)
	}

	out, err := a.api.StartTranscriptionJob(ctx, in)
	if err != nil {
		var conflict *types.ConflictException
		if errors.As(err, &conflict) {
			a.logger.Info("transcription job already exists", zap.String("job_name", job.Name))
			return nil
		}
		return fmt.Errorf("start transcription job %s: %w", job.Name, err)
	}
	if out != nil && out.TranscriptionJob != nil {
		a.logger.Debug("transcription job submitted",
			zap.String("job_name", job.Name),
			zap.String("status", string(out.TranscriptionJob.TranscriptionJobStatus)))
	}
	return nil
}
