package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates attempt lifecycle states. Transitions are owned
// exclusively by the session state machine; everything else reads.
type SessionState string

const (
	SessionStateSetup      SessionState = "SETUP"
	SessionStateActive     SessionState = "ACTIVE"
	SessionStateSubmitting SessionState = "SUBMITTING"
	SessionStateGraded     SessionState = "GRADED"
	SessionStateClosed     SessionState = "CLOSED"
	// SessionStateAbandoned is terminal: the deadline passed with nothing to grade.
	SessionStateAbandoned SessionState = "ABANDONED"
	// SessionStateSubmitFailed flags attempts whose final write kept failing;
	// they hold their answers and wait for manual recovery, never silently lost.
	SessionStateSubmitFailed SessionState = "SUBMITTING_FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == SessionStateClosed || s == SessionStateAbandoned
}

// SubmitReason records what pushed the session into SUBMITTING.
type SubmitReason string

const (
	SubmitReasonUser    SubmitReason = "user"
	SubmitReasonTimeout SubmitReason = "timeout"
	SubmitReasonForced  SubmitReason = "forced"
)

// Answer is one question's response. Autosave overwrites it whole; a write
// either fully replaces the prior value or is rejected.
type Answer struct {
	QuestionID uuid.UUID `json:"question_id"`
	// Coding.
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
	// Objective.
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	// Essay.
	Text string `json:"text,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one student's attempt at an assignment. Deadline is fixed at
// start and is the sole authority for expiry; ViolationCount only increases.
type Session struct {
	ID             uuid.UUID             `json:"id"`
	AssignmentID   uuid.UUID             `json:"assignment_id"`
	UserID         int                   `json:"user_id"`
	State          SessionState          `json:"state"`
	SubmitReason   SubmitReason          `json:"submit_reason,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	Deadline       time.Time             `json:"deadline"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
	ViolationCount int                   `json:"violation_count"`
	LastSavedAt    *time.Time            `json:"last_saved_at,omitempty"`
	QuestionOrder  []uuid.UUID           `json:"question_order,omitempty"`
	Answers        map[uuid.UUID]*Answer `json:"answers"`
	Result         *GradingResult        `json:"result,omitempty"`
}

// Clone returns a deep copy safe to hand to I/O while the original keeps
// mutating under the machine's lock.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Answers = make(map[uuid.UUID]*Answer, len(s.Answers))
	for qid, a := range s.Answers {
		ac := *a
		cp.Answers[qid] = &ac
	}
	if s.QuestionOrder != nil {
		cp.QuestionOrder = append([]uuid.UUID(nil), s.QuestionOrder...)
	}
	return &cp
}

// StartAttemptRequest is the payload for starting an attempt.
type StartAttemptRequest struct {
	EntryToken string `json:"entry_token" binding:"omitempty,min=4,max=20"`
}

// RecordAnswerRequest is the payload for saving one answer.
type RecordAnswerRequest struct {
	QuestionID        uuid.UUID `json:"question_id" binding:"required"`
	Code              string    `json:"code" binding:"omitempty,max=262144"`
	Language          string    `json:"language" binding:"omitempty,max=32"`
	SelectedOptionIDs []string  `json:"selected_option_ids" binding:"omitempty,max=32"`
	Text              string    `json:"text" binding:"omitempty,max=262144"`
}

// HeartbeatResponse tells the client where the server thinks the attempt is.
type HeartbeatResponse struct {
	State            SessionState `json:"state"`
	RemainingSeconds float64      `json:"remaining_seconds"`
	ViolationCount   int          `json:"violation_count"`
}
