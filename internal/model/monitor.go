package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventType enumerates live proctoring feed events.
type MonitorEventType string

const (
	MonitorEventJoin      MonitorEventType = "attempt_started"
	MonitorEventViolation MonitorEventType = "violation"
	MonitorEventSubmit    MonitorEventType = "attempt_submitted"
)

// MonitorEvent is one item on an assignment's live proctoring channel.
type MonitorEvent struct {
	Event          MonitorEventType `json:"event"`
	SessionID      uuid.UUID        `json:"session_id"`
	UserID         int              `json:"user_id"`
	ViolationCount int              `json:"violation_count,omitempty"`
	ViolationType  ViolationType    `json:"violation_type,omitempty"`
	State          SessionState     `json:"state,omitempty"`
	SubmitReason   SubmitReason     `json:"submit_reason,omitempty"`
	At             time.Time        `json:"at"`
}

// AttemptProgress is one row of the aggregate proctoring snapshot.
type AttemptProgress struct {
	UserID         int   `json:"user_id"`
	AnsweredCount  int64 `json:"answered_count"`
	ViolationCount int64 `json:"violation_count"`
}
