package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scoutbatch-go/internal/batch/app/service"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
)

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

type BatchHandlers struct {
	service *service.BatchService
	checks  map[string]ReadinessCheck
	logger  logger.Logger
}

func NewBatchHandlers(svc *service.BatchService, checks map[string]ReadinessCheck, log logger.Logger) *BatchHandlers {
	return &BatchHandlers{
		service: svc,
		checks:  checks,
		logger:  log,
	}
}

type EnqueueRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

type PendingBatchStatus struct {
	Direction batch.Direction `json:"direction"`
	Size      int             `json:"size"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Age       string          `json:"age"`
	Due       bool            `json:"due"`
	IDs       []string        `json:"ids"`
}

func (h *BatchHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *BatchHandlers) Ready(c *gin.Context) {
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *BatchHandlers) ListActive(c *gin.Context) {
	types, err := h.service.ActiveEntityTypes(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list active entity types", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entityTypes": types,
		"bound":       h.service.Catalog().Types(),
	})
}

func (h *BatchHandlers) Status(c *gin.Context) {
	entityType := c.Param("entityType")

	pending, err := h.service.Status(c.Request.Context(), entityType)
	if err != nil {
		h.fail(c, "Failed to load pending batches", err)
		return
	}

	batches := make([]PendingBatchStatus, 0, len(pending))
	for _, b := range pending {
		reason, age := h.service.Due(b)
		batches = append(batches, PendingBatchStatus{
			Direction: b.Direction,
			Size:      b.Len(),
			UpdatedAt: b.UpdatedAt,
			Age:       age.Truncate(time.Second).String(),
			Due:       reason != batch.FlushReasonNone,
			IDs:       b.IDs(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"entityType": entityType,
		"bound":      h.service.Catalog().Has(entityType),
		"batches":    batches,
	})
}

func (h *BatchHandlers) Enqueue(c *gin.Context) {
	entityType := c.Param("entityType")
	dir, err := batch.ParseDirection(c.Param("direction"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.EnqueueIDs(c.Request.Context(), entityType, dir, req.IDs); err != nil {
		h.fail(c, "Failed to enqueue records", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"entityType": entityType,
		"direction":  dir,
		"accepted":   len(req.IDs),
	})
}

func (h *BatchHandlers) Flush(c *gin.Context) {
	entityType := c.Param("entityType")

	results, err := h.service.CheckAndFlushAll(c.Request.Context(), entityType)
	if err != nil {
		h.fail(c, "Failed to flush entity type", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entityType": entityType,
		"results":    results,
	})
}

func (h *BatchHandlers) Sweep(c *gin.Context) {
	report, err := h.service.CheckAndFlushAllActive(c.Request.Context())
	if err != nil {
		h.logger.Error("Sweep finished with errors", "error", err)
		c.JSON(statusFor(err), gin.H{
			"error":  err.Error(),
			"report": report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (h *BatchHandlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrUnresolvable):
		return http.StatusBadGateway
	case errors.Is(err, batch.ErrMisconfiguredEntity):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, batch.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
