package recordings

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/pipeline"
	"github.com/echoguard/backend/pkg/response"
)

// S3EventPayload is the object-created notification sent by the audio bucket.
// A flat AudioReady body is accepted as well.
type S3EventPayload struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`

	models.AudioReady
}

// JobStatusPayload is a transcription state-change event, either in the EventBridge
// shape or as a flat TranscriptionJobStatus.
type JobStatusPayload struct {
	Detail *struct {
		TranscriptionJobName   string `json:"TranscriptionJobName"`
		TranscriptionJobStatus string `json:"TranscriptionJobStatus"`
	} `json:"detail"`

	models.TranscriptionJobStatus
}

// WebhookHandler turns storage and transcription notifications into bus events.
// It never touches the status store; the worker stages own every transition.
type WebhookHandler struct {
	bus    pipeline.Publisher
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(bus pipeline.Publisher, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{bus: bus, logger: logger}
}

// RecordingIDFromKey returns the recording id of an audio key laid out as <userId>/<recordingId>/<file>.
func RecordingIDFromKey(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AudioUploaded handles POST /webhooks/audio-uploaded.
func (h *WebhookHandler) AudioUploaded(c *gin.Context) {
	var body S3EventPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var events []models.AudioReady
	if len(body.Records) == 0 {
		if body.StorageKey == "" {
			response.BadRequest(c, "storageKey required")
			return
		}
		ev := body.AudioReady
		if ev.RecordingID == "" {
			id, ok := RecordingIDFromKey(ev.StorageKey)
			if !ok {
				response.BadRequest(c, "cannot derive recordingId from storageKey")
				return
			}
			ev.RecordingID = id
		}
		events = append(events, ev)
	}
	for _, r := range body.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			h.logger.Warn("undecodable object key", zap.String("key", r.S3.Object.Key), zap.Error(err))
			continue
		}
		id, ok := RecordingIDFromKey(key)
		if !ok {
			h.logger.Warn("object key is not an audio key", zap.String("key", key))
			continue
		}
		events = append(events, models.AudioReady{RecordingID: id, StorageKey: key, Bucket: r.S3.Bucket.Name})
	}
	if len(events) == 0 {
		response.BadRequest(c, "no audio objects in event")
		return
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if err := h.bus.Publish(c.Request.Context(), models.TopicAudioReady, ev); err != nil {
			h.logger.Error("publish audio ready failed", zap.Error(err), zap.String("recording_id", ev.RecordingID))
			response.Internal(c, "failed to publish event")
			return
		}
		ids = append(ids, ev.RecordingID)
	}
	h.logger.Info("audio uploaded webhook processed", zap.Strings("recording_ids", ids))
	response.Accepted(c, gin.H{"recordingIds": ids})
}

// TranscriptionStatus handles POST /webhooks/transcription-status.
func (h *WebhookHandler) TranscriptionStatus(c *gin.Context) {
	var body JobStatusPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev := body.TranscriptionJobStatus
	if body.Detail != nil {
		ev = models.TranscriptionJobStatus{
			JobName:   body.Detail.TranscriptionJobName,
			JobStatus: body.Detail.TranscriptionJobStatus,
		}
	}
	if ev.JobName == "" || ev.JobStatus == "" {
		response.BadRequest(c, "jobName and jobStatus required")
		return
	}
	if err := h.bus.Publish(c.Request.Context(), models.TopicTranscriptionStatus, ev); err != nil {
		h.logger.Error("publish transcription status failed", zap.Error(err), zap.String("job_name", ev.JobName))
		response.Internal(c, "failed to publish event")
		return
	}
	h.logger.Info("transcription status webhook processed", zap.String("job_name", ev.JobName), zap.String("job_status", ev.JobStatus))
	response.Accepted(c, gin.H{"jobName": ev.JobName})
}
