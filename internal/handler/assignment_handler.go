package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/validator"
)

// AssignmentHandler handles instructor assignment management endpoints.
type AssignmentHandler struct {
	assignmentService *service.AssignmentService
	sessionRepo       *repository.SessionRepository
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(assignmentService *service.AssignmentService, sessionRepo *repository.SessionRepository) *AssignmentHandler {
	return &AssignmentHandler{
		assignmentService: assignmentService,
		sessionRepo:       sessionRepo,
	}
}

// ListAssignments godoc
// GET /api/v1/instructor/assignments
// Lists the instructor's assignments with pagination.
func (h *AssignmentHandler) ListAssignments(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	assignments, pagination, err := h.assignmentService.List(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"assignments": assignments}, pagination)
}

// CreateAssignment godoc
// POST /api/v1/instructor/assignments
// Creates a new draft assignment.
func (h *AssignmentHandler) CreateAssignment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateAssignmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a := &model.Assignment{
		Title:            req.Title,
		AuthorID:         claims.UserID,
		Type:             req.Type,
		TimeLimitSeconds: req.TimeLimitSeconds,
		MaxAttempts:      req.MaxAttempts,
		AvailableFrom:    req.AvailableFrom,
		AvailableUntil:   req.AvailableUntil,
		EntryToken:       req.EntryToken,
		Policy:           req.Policy,
		Environment:      req.Environment,
		RandomizeOrder:   req.RandomizeOrder,
	}

	if err := h.assignmentService.Create(c.Request.Context(), a); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assignment": a})
}

// GetAssignment godoc
// GET /api/v1/instructor/assignments/:assignment_id
// Returns an assignment with its full question set, grading material included.
func (h *AssignmentHandler) GetAssignment(c *gin.Context) {
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
		h.fail(c, err)
		return
	}
	if a.AuthorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAssignmentAuthor)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assignment": a})
}

// UpdateAssignment godoc
// PUT /api/v1/instructor/assignments/:assignment_id
// Updates a draft assignment. Published assignments are immutable.
func (h *AssignmentHandler) UpdateAssignment(c *gin.Context) {
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

	var req model.UpdateAssignmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.assignmentService.GetByID(c.Request.Context(), assignmentID)
	if err != nil {
		h.fail(c, err)
		return
	}

	if req.Title != "" {
		a.Title = req.Title
	}
	if req.TimeLimitSeconds != nil {
		a.TimeLimitSeconds = *req.TimeLimitSeconds
	}
	if req.MaxAttempts != nil {
		a.MaxAttempts = *req.MaxAttempts
	}
	if req.AvailableFrom != nil {
		a.AvailableFrom = req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		a.AvailableUntil = req.AvailableUntil
	}
	if req.EntryToken != "" {
		a.EntryToken = req.EntryToken
	}
	if req.Policy != nil {
		a.Policy = *req.Policy
	}
	if req.Environment != nil {
		a.Environment = *req.Environment
	}
	if req.RandomizeOrder != nil {
		a.RandomizeOrder = *req.RandomizeOrder
	}

	if err := h.assignmentService.Update(c.Request.Context(), claims.UserID, a); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assignment": a})
}

// DeleteAssignment godoc
// DELETE /api/v1/instructor/assignments/:assignment_id
// Deletes a draft assignment and its questions.
func (h *AssignmentHandler) DeleteAssignment(c *gin.Context) {
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

	if err := h.assignmentService.Delete(c.Request.Context(), assignmentID, claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ReplaceQuestions godoc
// PUT /api/v1/instructor/assignments/:assignment_id/questions
// Replaces a draft's full question set in one shot.
func (h *AssignmentHandler) ReplaceQuestions(c *gin.Context) {
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

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions := make([]model.Question, len(req.Questions))
	for i, q := range req.Questions {
		orderNum := q.OrderNum
		if orderNum == 0 {
			orderNum = i + 1
		}
		questions[i] = model.Question{
			Type:             model.QuestionType(q.Type),
			Text:             q.Text,
			Points:           q.Points,
			OrderNum:         orderNum,
			Options:          q.Options,
			CorrectOptionIDs: q.CorrectOptionIDs,
			StarterCode:      q.StarterCode,
			AllowedLanguages: q.AllowedLanguages,
			TestCases:        q.TestCases,
		}
	}

	if err := h.assignmentService.ReplaceQuestions(c.Request.Context(), assignmentID, claims.UserID, questions); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// PublishAssignment godoc
// POST /api/v1/instructor/assignments/:assignment_id/publish
// Publishes an assignment: warms the Redis payload cache, flips the status.
func (h *AssignmentHandler) PublishAssignment(c *gin.Context) {
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

	if err := h.assignmentService.Publish(c.Request.Context(), assignmentID, claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "assignment published"})
}

// ArchiveAssignment godoc
// POST /api/v1/instructor/assignments/:assignment_id/archive
// Archives a published assignment and evicts its cached payload.
func (h *AssignmentHandler) ArchiveAssignment(c *gin.Context) {
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

	if err := h.assignmentService.Archive(c.Request.Context(), assignmentID, claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "assignment archived"})
}

// ListAttempts godoc
// GET /api/v1/instructor/assignments/:assignment_id/attempts
// Lists attempts with scores for an assignment.
func (h *AssignmentHandler) ListAttempts(c *gin.Context) {
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
		h.fail(c, err)
		return
	}
	if a.AuthorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAssignmentAuthor)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	attempts, total, err := h.sessionRepo.ListByAssignment(c.Request.Context(), assignmentID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	totalPages := (int(total) + perPage - 1) / perPage
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// fail maps assignment domain errors onto HTTP responses.
func (h *AssignmentHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotAssignmentAuthor):
		response.Fail(c, http.StatusForbidden, response.ErrNotAssignmentAuthor)
	case errors.Is(err, service.ErrAssignmentNotDraft):
		response.Fail(c, http.StatusConflict, response.ErrAssignmentNotDraft)
	case errors.Is(err, service.ErrAssignmentNotPublished):
		response.Fail(c, http.StatusConflict, response.ErrAssignmentNotPublished)
	case errors.Is(err, model.ErrNoQuestions):
		response.Fail(c, http.StatusBadRequest, response.ErrNoQuestions)
	case errors.Is(err, model.ErrQuestionNoID), errors.Is(err, model.ErrQuestionNoType):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
