// Package health reports whether the service's backing stores answer.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/echoguard/backend/pkg/response"
)

// CheckTimeout bounds the whole health probe.
const CheckTimeout = 2 * time.Second

// Check pings one dependency.
type Check func(ctx context.Context) error

// Handler serves GET /health.
type Handler struct {
	checks map[string]Check
	logger *zap.Logger
}

// NewHandler creates a health handler over named checks.
func NewHandler(checks map[string]Check, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{checks: checks, logger: logger}
}

// Serve runs every check and answers 200 when all pass, 503 otherwise.
func (h *Handler) Serve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), CheckTimeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: status, Error: "dependency unavailable"})
		return
	}
	response.OK(c, status)
}
