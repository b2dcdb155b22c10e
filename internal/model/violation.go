package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType enumerates detected environment-integrity breaches.
type ViolationType string

const (
	ViolationFocusLost      ViolationType = "focus_lost"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationBlockedInput   ViolationType = "blocked_input"
	ViolationTabSwitch      ViolationType = "tab_switch"
)

// KnownViolationType reports whether t is one of the defined types.
func KnownViolationType(t ViolationType) bool {
	switch t {
	case ViolationFocusLost, ViolationFullscreenExit, ViolationBlockedInput, ViolationTabSwitch:
		return true
	}
	return false
}

// ViolationEvent is an append-only integrity signal. The count derived from
// the event list is monotonically non-decreasing within a session.
type ViolationEvent struct {
	SessionID  uuid.UUID     `json:"session_id"`
	Type       ViolationType `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	// Details carries the raw client payload for audit, opaque to the server.
	Details string `json:"details,omitempty"`
}

// ReportViolationRequest is the client payload for reporting a violation.
type ReportViolationRequest struct {
	Type    ViolationType `json:"type" binding:"required"`
	Details string        `json:"details" binding:"omitempty,max=4096"`
}
