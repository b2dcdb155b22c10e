package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// Store is the persistence contract the session engine requires. The engine
// assumes at-least-once save semantics: Save is an idempotent upsert of the
// whole session snapshot, and duplicate deliveries are de-duplicated by the
// store via LastSavedAt/version checks.
type Store interface {
	// Load retrieves a session snapshot, ErrSessionNotFound if absent.
	Load(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)

	// Save upserts a full session snapshot. A snapshot either fully replaces
	// the stored state or fails; partial writes are the store's bug to avoid.
	Save(ctx context.Context, s *model.Session) error

	// AppendViolation records one integrity event, append-only.
	AppendViolation(ctx context.Context, ev model.ViolationEvent) error

	// LoadViolations returns all recorded events for a session in order.
	LoadViolations(ctx context.Context, sessionID uuid.UUID) ([]model.ViolationEvent, error)

	// LoadActive lists sessions that were neither closed nor abandoned at the
	// time of the last save; used to resume attempts after a restart.
	LoadActive(ctx context.Context) ([]*model.Session, error)
}

// SpecLoader resolves an assignment spec by id. The registry uses it to
// rebuild machines for recovered sessions.
type SpecLoader func(ctx context.Context, assignmentID uuid.UUID) (*model.Assignment, error)

// Grader turns one answered question into a QuestionResult. Implementations
// must keep failures per-question: a compile error on one answer never aborts
// grading of the rest of the submission.
type Grader interface {
	GradeQuestion(ctx context.Context, q model.Question, ans *model.Answer) model.QuestionResult
}
