package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/session"
)

// Domain errors.
var (
	ErrAssignmentNotAvailable = errors.New("assignment is not currently available")
	ErrInvalidEntryToken      = errors.New("invalid entry token")
	ErrMaxAttemptsReached     = errors.New("maximum attempts reached")
	ErrNotSessionOwner        = errors.New("session belongs to another user")
	ErrUnknownViolationType   = errors.New("unknown violation type")
)

// GatewayService is the student-facing front of the attempt engine. It owns
// admission (availability window, entry token, attempt limits) and routes
// everything after admission to the live session machine.
type GatewayService struct {
	registry    *session.Registry
	assignments *AssignmentService
	sessionRepo *repository.SessionRepository
	monitor     *MonitorService
	log         zerolog.Logger
}

// NewGatewayService creates a new GatewayService.
func NewGatewayService(
	registry *session.Registry,
	assignments *AssignmentService,
	sessionRepo *repository.SessionRepository,
	monitor *MonitorService,
	log zerolog.Logger,
) *GatewayService {
	return &GatewayService{
		registry:    registry,
		assignments: assignments,
		sessionRepo: sessionRepo,
		monitor:     monitor,
		log:         log.With().Str("component", "gateway_service").Logger(),
	}
}

// StartAttempt admits a student into an assignment and returns the attempt
// snapshot plus the sanitized question payload. If the student already has a
// live attempt on this assignment, that attempt is resumed instead of
// counting a new one.
func (s *GatewayService) StartAttempt(ctx context.Context, assignmentID uuid.UUID, userID int, entryToken string) (*model.Session, *model.AssignmentPayload, error) {
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	if !a.AvailableAt(time.Now()) {
		return nil, nil, ErrAssignmentNotAvailable
	}
	if a.EntryToken != "" && a.EntryToken != entryToken {
		return nil, nil, ErrInvalidEntryToken
	}

	// Resume before admission checks: a live attempt already spent its slot.
	if m, ok := s.registry.ActiveFor(assignmentID, userID); ok {
		sess := m.Session()
		if !sess.State.Terminal() {
			payload, err := s.assignments.GetPayload(ctx, assignmentID)
			if err != nil {
				return nil, nil, err
			}
			return sess, payload, nil
		}
	}

	if a.MaxAttempts > 0 {
		attempts, err := s.sessionRepo.CountAttempts(ctx, assignmentID, userID)
		if err != nil {
			return nil, nil, err
		}
		if attempts >= a.MaxAttempts {
			return nil, nil, ErrMaxAttemptsReached
		}
	}

	m, err := s.registry.Start(ctx, a, userID)
	if err != nil {
		return nil, nil, err
	}
	sess := m.Session()

	payload, err := s.assignments.GetPayload(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}

	s.monitor.Publish(ctx, assignmentID, model.MonitorEvent{
		Event:     model.MonitorEventJoin,
		SessionID: sess.ID,
		UserID:    userID,
		State:     sess.State,
	})
	return sess, payload, nil
}

// RecordAnswer saves one answer into the live attempt, replacing any prior
// value for that question whole.
func (s *GatewayService) RecordAnswer(ctx context.Context, sessionID uuid.UUID, userID int, req model.RecordAnswerRequest) error {
	m, err := s.machineFor(sessionID, userID)
	if err != nil {
		return err
	}
	return m.RecordAnswer(req.QuestionID, model.Answer{
		QuestionID:        req.QuestionID,
		Code:              req.Code,
		Language:          req.Language,
		SelectedOptionIDs: req.SelectedOptionIDs,
		Text:              req.Text,
		UpdatedAt:         time.Now(),
	})
}

// Heartbeat reports the server's view of the attempt and doubles as the
// expiry check between clock ticks.
func (s *GatewayService) Heartbeat(ctx context.Context, sessionID uuid.UUID, userID int) (model.HeartbeatResponse, error) {
	m, err := s.machineFor(sessionID, userID)
	if err != nil {
		return model.HeartbeatResponse{}, err
	}
	return m.Heartbeat(time.Now()), nil
}

// ReportViolation records an integrity event and returns the updated count.
func (s *GatewayService) ReportViolation(ctx context.Context, sessionID uuid.UUID, userID int, req model.ReportViolationRequest) (int, error) {
	if !model.KnownViolationType(req.Type) {
		return 0, ErrUnknownViolationType
	}
	m, err := s.machineFor(sessionID, userID)
	if err != nil {
		return 0, err
	}

	count, err := m.ReportViolation(ctx, model.ViolationEvent{
		SessionID:  sessionID,
		Type:       req.Type,
		OccurredAt: time.Now(),
		Details:    req.Details,
	})
	if err != nil {
		return count, err
	}

	sess := m.Session()
	s.monitor.Publish(ctx, sess.AssignmentID, model.MonitorEvent{
		Event:          model.MonitorEventViolation,
		SessionID:      sessionID,
		UserID:         userID,
		ViolationCount: count,
		ViolationType:  req.Type,
		State:          sess.State,
	})
	return count, nil
}

// Submit finalizes the attempt on the student's request and blocks until
// grading completes. Safe to call repeatedly; later calls return the same
// result.
func (s *GatewayService) Submit(ctx context.Context, sessionID uuid.UUID, userID int) (*model.GradingResult, error) {
	m, err := s.machineFor(sessionID, userID)
	if errors.Is(err, session.ErrSessionNotFound) {
		// Already finished and evicted from the registry; a repeat submit
		// stays idempotent by serving the stored result.
		return s.GetResult(ctx, sessionID, userID)
	}
	if err != nil {
		return nil, err
	}

	result, err := m.Submit(ctx)
	if err != nil {
		return nil, err
	}

	sess := m.Session()
	s.monitor.Publish(ctx, sess.AssignmentID, model.MonitorEvent{
		Event:        model.MonitorEventSubmit,
		SessionID:    sessionID,
		UserID:       userID,
		State:        sess.State,
		SubmitReason: sess.SubmitReason,
	})
	return result, nil
}

// GetResult returns the grading result for a finished attempt. Attempts that
// finished before the last restart are no longer live in the registry, so
// the store is the fallback.
func (s *GatewayService) GetResult(ctx context.Context, sessionID uuid.UUID, userID int) (*model.GradingResult, error) {
	m, err := s.machineFor(sessionID, userID)
	if err == nil {
		return m.Result(ctx)
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	sess, err := s.sessionRepo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	if sess.Result == nil {
		return nil, session.ErrNotGraded
	}
	return sess.Result, nil
}

// GetSession returns the attempt snapshot: live attempts from the registry,
// finished ones from the store.
func (s *GatewayService) GetSession(ctx context.Context, sessionID uuid.UUID, userID int) (*model.Session, error) {
	m, err := s.machineFor(sessionID, userID)
	if err == nil {
		return m.Session(), nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	sess, err := s.sessionRepo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return sess, nil
}

func (s *GatewayService) machineFor(sessionID uuid.UUID, userID int) (*session.Machine, error) {
	m, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if m.Session().UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return m, nil
}
