package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/rs/zerolog"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams the live proctoring view to instructors over SSE.
type MonitorHandler struct {
	assignmentService *service.AssignmentService
	monitorService    *service.MonitorService
	log               zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	assignmentService *service.AssignmentService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		assignmentService: assignmentService,
		monitorService:    monitorService,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssignmentSSE godoc
// GET /api/v1/instructor/assignments/:assignment_id/monitor
// Live feed: initial snapshot, then per-event forwarding from Redis pub/sub
// with periodic aggregate refreshes and keepalive pings.
func (h *MonitorHandler) MonitorAssignmentSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	a, err := h.assignmentService.GetByID(c.Request.Context(), assignmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if a.AuthorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAssignmentAuthor)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	totalQuestions := len(a.Questions)

	h.sendSnapshot(c, reqCtx, assignmentID, a.Title, totalQuestions)

	pubsub := h.monitorService.Subscribe(reqCtx, assignmentID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip empty refresh queries until at least one event proves activity.
	hasActivity := false

	h.log.Info().Str("assignment_id", assignmentID.String()).Msg("Instructor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assignment_id", assignmentID.String()).Msg("Instructor disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			hasActivity = true

		case <-refreshTicker.C:
			if !hasActivity {
				continue
			}
			h.sendRefresh(c, reqCtx, assignmentID, totalQuestions)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// GetProgress godoc
// GET /api/v1/instructor/assignments/:assignment_id/progress
// One-shot aggregate snapshot for clients that cannot hold an SSE stream.
func (h *MonitorHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	a, err := h.assignmentService.GetByID(c.Request.Context(), assignmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if a.AuthorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAssignmentAuthor)
		return
	}

	progress, err := h.monitorService.GetProgress(c.Request.Context(), assignmentID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"total_questions": len(a.Questions),
		"attempts":        progress,
	})
}

// sendSnapshot writes the first SSE event with the full aggregate state.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, assignmentID uuid.UUID, title string, totalQuestions int) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, assignmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to build initial monitor snapshot")
		progress = nil
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"assignment": map[string]interface{}{
				"id":              assignmentID.String(),
				"title":           title,
				"total_questions": totalQuestions,
			},
			"attempts": progress,
		},
	})
	c.Writer.Flush()
}

// sendRefresh polls current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, assignmentID uuid.UUID, totalQuestions int) {
	// Scoped timeout prevents a slow query from stalling the SSE loop.
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, assignmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch attempt progress for refresh")
		return
	}

	c.SSEvent("message", map[string]interface{}{
		"type":            "refresh",
		"total_questions": totalQuestions,
		"attempts":        progress,
	})
	c.Writer.Flush()
}
