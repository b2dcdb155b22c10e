package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/session"
	"github.com/invigilo/invigilo-backend/internal/validator"
)

// AttemptHandler handles the student attempt endpoints.
type AttemptHandler struct {
	gateway *service.GatewayService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(gateway *service.GatewayService) *AttemptHandler {
	return &AttemptHandler{gateway: gateway}
}

// StartAttempt godoc
// POST /api/v1/student/assignments/:assignment_id/attempts
// Starts (or resumes) the student's attempt and returns the question payload.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
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

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, payload, err := h.gateway.StartAttempt(c.Request.Context(), assignmentID, claims.UserID, req.EntryToken)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session":    sess,
		"assignment": payload,
	})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:session_id
// Returns the current attempt snapshot, answers included.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.gateway.GetSession(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:session_id/answers
// Saves one answer, replacing any previous value for the question.
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.gateway.RecordAnswer(c.Request.Context(), sessionID, claims.UserID, req); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// Heartbeat godoc
// GET /api/v1/student/attempts/:session_id/heartbeat
// Returns state, remaining seconds and violation count; also the expiry check.
func (h *AttemptHandler) Heartbeat(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	hb, err := h.gateway.Heartbeat(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"heartbeat": hb})
}

// ReportViolation godoc
// POST /api/v1/student/attempts/:session_id/violations
// Records an integrity violation event and returns the updated count.
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	count, err := h.gateway.ReportViolation(c.Request.Context(), sessionID, claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"violation_count": count})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:session_id/submit
// Finalizes the attempt and blocks until grading finishes. Idempotent.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.gateway.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetResult godoc
// GET /api/v1/student/attempts/:session_id/result
// Returns the grading result of a finished attempt.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.gateway.GetResult(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// fail maps attempt domain errors onto HTTP responses.
func (h *AttemptHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, session.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, session.ErrAlreadyActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionActive)
	case errors.Is(err, session.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, session.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.Is(err, session.ErrLanguageNotAllowed):
		response.Fail(c, http.StatusBadRequest, response.ErrLanguageNotAllowed)
	case errors.Is(err, session.ErrNotGraded):
		response.Fail(c, http.StatusConflict, response.ErrResultNotReady)
	case errors.Is(err, session.ErrStoreUnavailable):
		response.Fail(c, http.StatusInternalServerError, response.ErrSubmitFailed)
	case errors.Is(err, service.ErrAssignmentNotAvailable):
		response.Fail(c, http.StatusForbidden, response.ErrAssignmentNotAvailable)
	case errors.Is(err, service.ErrInvalidEntryToken):
		response.Fail(c, http.StatusForbidden, response.ErrInvalidEntryToken)
	case errors.Is(err, service.ErrMaxAttemptsReached):
		response.Fail(c, http.StatusForbidden, response.ErrMaxAttemptsReached)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrUnknownViolationType):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
