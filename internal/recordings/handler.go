package recordings

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/pipeline"
	"github.com/echoguard/backend/internal/results"
	"github.com/echoguard/backend/pkg/response"
)

const (
	// DefaultPageSize is used when a listing request carries no limit.
	DefaultPageSize = 10
	// MaxPageSize bounds the limit of a listing request.
	MaxPageSize = 100
)

// Lister reads recordings for the read API.
type Lister interface {
	Get(ctx context.Context, id string) (*models.Recording, error)
	ListByUser(ctx context.Context, userID string, limit int, after *Cursor) ([]models.Recording, *Cursor, error)
}

// ResultReader reads analysis results.
type ResultReader interface {
	Get(ctx context.Context, recordingID string) (*models.AnalysisResult, error)
}

// Uploader issues upload tickets.
type Uploader interface {
	Upload(ctx context.Context, req pipeline.UploadRequest) (*pipeline.UploadTicket, error)
}

// ListResponse is one page of a user's recordings.
type ListResponse struct {
	Recordings        []models.Recording `json:"recordings"`
	ContinuationToken string             `json:"continuationToken,omitempty"`
}

// DetailResponse is a recording with its analysis, once the analysis has run.
type DetailResponse struct {
	Recording *models.Recording      `json:"recording"`
	Analysis  *models.AnalysisResult `json:"analysis,omitempty"`
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo     Lister
	results  ResultReader
	uploader Uploader
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo Lister, res ResultReader, uploader Uploader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, results: res, uploader: uploader, logger: logger}
}

// ListByUser handles GET /users/:userId/recordings.
func (h *Handler) ListByUser(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		response.BadRequest(c, "userId is required")
		return
	}
	limit := DefaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageSize {
			response.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	after, err := DecodeCursor(c.Query("continuationToken"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	list, next, err := h.repo.ListByUser(c.Request.Context(), userID, limit, after)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("user_id", userID))
		response.Internal(c, "failed to list recordings")
		return
	}
	if list == nil {
		list = []models.Recording{}
	}
	out := ListResponse{Recordings: list}
	if next != nil {
		out.ContinuationToken = next.Encode()
	}
	response.OK(c, out)
}

// Get handles GET /recordings/:recordingId.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("recordingId")
	rec, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", id))
		response.Internal(c, "failed to get recording")
		return
	}

	out := DetailResponse{Recording: rec}
	analysis, err := h.results.Get(c.Request.Context(), id)
	switch {
	case err == nil:
		out.Analysis = analysis
	case errors.Is(err, results.ErrNotFound):
	default:
		h.logger.Error("get analysis failed", zap.Error(err), zap.String("recording_id", id))
		response.Internal(c, "failed to get analysis")
		return
	}
	response.OK(c, out)
}

// Upload handles POST /recordings. It returns a pre-signed URL for the client to put the audio to.
func (h *Handler) Upload(c *gin.Context) {
	var req pipeline.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ticket, err := h.uploader.Upload(c.Request.Context(), req)
	if err != nil {
		var malformed *pipeline.MalformedEventError
		if errors.As(err, &malformed) {
			response.BadRequest(c, malformed.Reason)
			return
		}
		h.logger.Error("create upload failed", zap.Error(err), zap.String("user_id", req.UserID))
		response.Internal(c, "failed to create upload")
		return
	}
	response.Created(c, ticket)
}
