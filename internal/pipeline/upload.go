package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/pkg/storage"
	"go.uber.org/zap"
)

// DefaultDescription is stored when an upload carries no description.
const DefaultDescription = "Audio Recording"

// UploadRequest asks for a new recording slot.
type UploadRequest struct {
	UserID      string `json:"userId" binding:"required"`
	FileName    string `json:"fileName" binding:"required"`
	FileType    string `json:"fileType"`
	Description string `json:"description"`
}

// UploadTicket is returned to the client for the direct upload.
type UploadTicket struct {
	RecordingID string `json:"recordingId"`
	UploadURL   string `json:"uploadUrl"`
	StorageKey  string `json:"storageKey"`
	ExpiresIn   int    `json:"expiresIn"`
}

// Upload creates the PENDING_UPLOAD record and a pre-signed URL for the raw audio.
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (*UploadTicket, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.FileName = strings.TrimSpace(req.FileName)
	if req.UserID == "" {
		return nil, malformed("upload", "userId is required")
	}
	if req.FileName == "" {
		return nil, malformed("upload", "fileName is required")
	}
	if req.Description == "" {
		req.Description = DefaultDescription
	}
	if req.FileType == "" {
		req.FileType = "audio/" + MediaFormat(req.FileName)
	}

	id := models.NewRecordingID()
	key := storage.AudioKey(req.UserID, id, req.FileName)
	url, err := p.signer.PresignUpload(ctx, p.cfg.AudioBucket, key, req.FileType, p.cfg.UploadURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	now := p.now()
	rec := &models.Recording{
		RecordingID: id,
		UserID:      req.UserID,
		FileName:    req.FileName,
		FileType:    req.FileType,
		Description: req.Description,
		StorageKey:  key,
		Status:      models.StatusPendingUpload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.status.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	p.logger.Info("recording created",
		zap.String("recording_id", id),
		zap.String("user_id", req.UserID),
		zap.String("storage_key", key))

	return &UploadTicket{
		RecordingID: id,
		UploadURL:   url,
		StorageKey:  key,
		ExpiresIn:   int(p.cfg.UploadURLExpiry.Seconds()),
	}, nil
}
