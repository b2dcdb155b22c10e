package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/response"
)

// Domain errors.
var (
	ErrNotAssignmentAuthor    = errors.New("not the author of this assignment")
	ErrAssignmentNotDraft     = errors.New("assignment status is not DRAFT")
	ErrAssignmentNotPublished = errors.New("assignment status is not PUBLISHED")
)

// AssignmentService handles assignment authoring and the Redis payload cache.
// Publishing freezes the structure: drafts mutate, published assignments only
// serve.
type AssignmentService struct {
	repo *repository.AssignmentRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(repo *repository.AssignmentRepository, rdb *redis.Client, log zerolog.Logger) *AssignmentService {
	return &AssignmentService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "assignment_service").Logger(),
	}
}

// GetByID retrieves an assignment with questions.
func (s *AssignmentService) GetByID(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves an author's assignments with pagination.
func (s *AssignmentService) List(ctx context.Context, authorID, page, perPage int) ([]model.Assignment, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	assignments, total, err := s.repo.List(ctx, authorID, page, perPage)
	if err != nil {
		return nil, nil, err
	}
	if assignments == nil {
		assignments = []model.Assignment{}
	}

	totalPages := (int(total) + perPage - 1) / perPage
	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	}
	return assignments, pagination, nil
}

// Create inserts a new assignment as DRAFT.
func (s *AssignmentService) Create(ctx context.Context, a *model.Assignment) error {
	a.Status = model.AssignmentStatusDraft
	return s.repo.Create(ctx, a)
}

// Update modifies an existing draft assignment.
func (s *AssignmentService) Update(ctx context.Context, authorID int, a *model.Assignment) error {
	existing, err := s.repo.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.AuthorID != authorID {
		return ErrNotAssignmentAuthor
	}
	if existing.Status != model.AssignmentStatusDraft {
		return ErrAssignmentNotDraft
	}
	return s.repo.Update(ctx, a)
}

// Delete removes a draft assignment.
func (s *AssignmentService) Delete(ctx context.Context, id uuid.UUID, authorID int) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.AuthorID != authorID {
		return ErrNotAssignmentAuthor
	}
	if existing.Status != model.AssignmentStatusDraft {
		return ErrAssignmentNotDraft
	}
	return s.repo.Delete(ctx, id)
}

// ReplaceQuestions swaps a draft's question set.
func (s *AssignmentService) ReplaceQuestions(ctx context.Context, assignmentID uuid.UUID, authorID int, questions []model.Question) error {
	existing, err := s.repo.GetByID(ctx, assignmentID)
	if err != nil {
		return err
	}
	if existing.AuthorID != authorID {
		return ErrNotAssignmentAuthor
	}
	if existing.Status != model.AssignmentStatusDraft {
		return ErrAssignmentNotDraft
	}
	return s.repo.ReplaceQuestions(ctx, assignmentID, questions)
}

// Publish validates structure, warms the Redis payload cache and flips the
// status to PUBLISHED. The cache comes first so the moment the status flips,
// the fast path can serve.
func (s *AssignmentService) Publish(ctx context.Context, assignmentID uuid.UUID, authorID int) error {
	a, err := s.repo.GetByID(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("get assignment: %w", err)
	}
	if a.AuthorID != authorID {
		return ErrNotAssignmentAuthor
	}
	if a.Status != model.AssignmentStatusDraft {
		return ErrAssignmentNotDraft
	}
	if err := a.ValidateStructure(); err != nil {
		return err
	}

	if err := s.WarmCache(ctx, a); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, assignmentID, model.AssignmentStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("assignment_id", assignmentID.String()).Msg("Assignment published")
	return nil
}

// Archive takes a published assignment out of circulation and drops its
// cached payload. Running sessions are unaffected; their specs are already
// in memory.
func (s *AssignmentService) Archive(ctx context.Context, assignmentID uuid.UUID, authorID int) error {
	a, err := s.repo.GetByID(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.AuthorID != authorID {
		return ErrNotAssignmentAuthor
	}
	if a.Status != model.AssignmentStatusPublished {
		return ErrAssignmentNotPublished
	}

	if err := s.repo.UpdateStatus(ctx, assignmentID, model.AssignmentStatusArchived); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.AssignmentPayloadKey(assignmentID.String()))
	pipe.Del(ctx, config.CacheKey.AssignmentAnswerKey(assignmentID.String()))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("Cache eviction failed")
	}

	s.log.Info().Str("assignment_id", assignmentID.String()).Msg("Assignment archived")
	return nil
}

// WarmCache loads an assignment's student payload and objective answer key
// into Redis. Correct options, hidden cases and expected outputs never enter
// the payload.
func (s *AssignmentService) WarmCache(ctx context.Context, a *model.Assignment) error {
	if len(a.Questions) == 0 {
		return model.ErrNoQuestions
	}

	studentQuestions := make([]model.QuestionForStudent, len(a.Questions))
	for i := range a.Questions {
		studentQuestions[i] = a.Questions[i].ForStudent()
	}

	payload := model.AssignmentPayload{
		AssignmentID:     a.ID,
		Title:            a.Title,
		Type:             a.Type,
		TimeLimitSeconds: a.TimeLimitSeconds,
		Environment:      a.Environment,
		Questions:        studentQuestions,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Objective answer keys as a hash, one field per question.
	answerKey := make(map[string]interface{})
	for i := range a.Questions {
		q := &a.Questions[i]
		if q.Type != model.QuestionTypeObjective || len(q.CorrectOptionIDs) == 0 {
			continue
		}
		ids, err := json.Marshal(q.CorrectOptionIDs)
		if err != nil {
			return fmt.Errorf("marshal answer key: %w", err)
		}
		answerKey[q.ID.String()] = string(ids)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AssignmentPayloadKey(a.ID.String()), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.AssignmentAnswerKey(a.ID.String()))
	if len(answerKey) > 0 {
		pipe.HSet(ctx, config.CacheKey.AssignmentAnswerKey(a.ID.String()), answerKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("assignment_id", a.ID.String()).
		Int("questions", len(a.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads every published assignment into Redis at startup so
// first requests never race a cold cache.
func (s *AssignmentService) PrewarmAllCaches(ctx context.Context) error {
	assignments, err := s.repo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published assignments: %w", err)
	}
	if len(assignments) == 0 {
		s.log.Info().Msg("No published assignments to prewarm")
		return nil
	}

	warmed := 0
	for i := range assignments {
		full, err := s.repo.GetByID(ctx, assignments[i].ID)
		if err != nil {
			s.log.Warn().Err(err).Str("assignment_id", assignments[i].ID.String()).Msg("Failed to load assignment, skipping")
			continue
		}
		if err := s.WarmCache(ctx, full); err != nil {
			s.log.Warn().Err(err).Str("assignment_id", full.ID.String()).Msg("Failed to warm assignment, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(assignments)).Msg("Prewarming complete")
	return nil
}

// GetPayload retrieves the cached student payload, falling back to the
// database and re-warming on a miss.
func (s *AssignmentService) GetPayload(ctx context.Context, assignmentID uuid.UUID) (*model.AssignmentPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AssignmentPayloadKey(assignmentID.String())).Bytes()
	if err == nil {
		var payload model.AssignmentPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	a, err := s.repo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AssignmentStatusPublished {
		return nil, ErrAssignmentNotPublished
	}
	if err := s.WarmCache(ctx, a); err != nil {
		return nil, err
	}

	studentQuestions := make([]model.QuestionForStudent, len(a.Questions))
	for i := range a.Questions {
		studentQuestions[i] = a.Questions[i].ForStudent()
	}
	return &model.AssignmentPayload{
		AssignmentID:     a.ID,
		Title:            a.Title,
		Type:             a.Type,
		TimeLimitSeconds: a.TimeLimitSeconds,
		Environment:      a.Environment,
		Questions:        studentQuestions,
	}, nil
}
