package model

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus enumerates the possible states of an assignment.
type AssignmentStatus string

const (
	AssignmentStatusDraft     AssignmentStatus = "DRAFT"
	AssignmentStatusPublished AssignmentStatus = "PUBLISHED"
	AssignmentStatusArchived  AssignmentStatus = "ARCHIVED"
)

// AssignmentType enumerates what kind of answers an assignment collects.
type AssignmentType string

const (
	AssignmentTypeObjective AssignmentType = "OBJECTIVE"
	AssignmentTypeCoding    AssignmentType = "CODING"
	AssignmentTypeEssay     AssignmentType = "ESSAY"
	AssignmentTypeMixed     AssignmentType = "MIXED"
)

// ViolationPolicy controls how integrity violations escalate during an attempt.
type ViolationPolicy struct {
	MaxViolations         int  `json:"max_violations"`
	AutoSubmitOnViolation bool `json:"auto_submit_on_violation"`
	// DebounceSeconds absorbs bursty browser events; duplicate reports of the
	// same violation type inside this window count once. Zero means default (2s).
	DebounceSeconds int `json:"debounce_seconds,omitempty"`
}

// EnvironmentRequirements describes the exam environment the client must enforce.
// The server records them in the spec payload; detection happens client-side and
// arrives back as ViolationEvents.
type EnvironmentRequirements struct {
	RequireFullscreen bool `json:"require_fullscreen"`
	RequireCamera     bool `json:"require_camera"`
	BlockClipboard    bool `json:"block_clipboard"`
}

// Assignment is the immutable description of an assessment. It is created by an
// external authoring process and read-only to the session engine.
type Assignment struct {
	ID               uuid.UUID               `json:"id"`
	Title            string                  `json:"title"`
	AuthorID         int                     `json:"author_id"`
	Type             AssignmentType          `json:"type"`
	Status           AssignmentStatus        `json:"status"`
	TimeLimitSeconds int                     `json:"time_limit_seconds"`
	MaxAttempts      int                     `json:"max_attempts"`
	AvailableFrom    *time.Time              `json:"available_from,omitempty"`
	AvailableUntil   *time.Time              `json:"available_until,omitempty"`
	EntryToken       string                  `json:"entry_token,omitempty"`
	Policy           ViolationPolicy         `json:"violation_policy"`
	Environment      EnvironmentRequirements `json:"environment"`
	RandomizeOrder   bool                    `json:"randomize_order"`
	Questions        []Question              `json:"questions,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// TimeLimit returns the attempt duration as a time.Duration.
func (a *Assignment) TimeLimit() time.Duration {
	return time.Duration(a.TimeLimitSeconds) * time.Second
}

// AvailableAt reports whether the assignment's global availability window
// contains the given instant.
func (a *Assignment) AvailableAt(now time.Time) bool {
	if a.Status != AssignmentStatusPublished {
		return false
	}
	if a.AvailableFrom != nil && now.Before(*a.AvailableFrom) {
		return false
	}
	if a.AvailableUntil != nil && now.After(*a.AvailableUntil) {
		return false
	}
	return true
}

// ValidateStructure checks structural completeness only: every question carries
// an id and a type. Question content is the authoring process's problem.
func (a *Assignment) ValidateStructure() error {
	if len(a.Questions) == 0 {
		return ErrNoQuestions
	}
	for i := range a.Questions {
		if err := a.Questions[i].ValidateStructure(); err != nil {
			return err
		}
	}
	return nil
}

// CreateAssignmentRequest is the payload for creating a new assignment.
type CreateAssignmentRequest struct {
	Title            string                  `json:"title" binding:"required,min=3,max=255"`
	Type             AssignmentType          `json:"type" binding:"required,oneof=OBJECTIVE CODING ESSAY MIXED"`
	TimeLimitSeconds int                     `json:"time_limit_seconds" binding:"required,min=30,max=28800"`
	MaxAttempts      int                     `json:"max_attempts" binding:"omitempty,min=1,max=10"`
	AvailableFrom    *time.Time              `json:"available_from" binding:"omitempty"`
	AvailableUntil   *time.Time              `json:"available_until" binding:"omitempty,gtfield=AvailableFrom"`
	EntryToken       string                  `json:"entry_token" binding:"omitempty,min=4,max=20"`
	Policy           ViolationPolicy         `json:"violation_policy"`
	Environment      EnvironmentRequirements `json:"environment"`
	RandomizeOrder   bool                    `json:"randomize_order"`
}

// UpdateAssignmentRequest is the payload for updating a draft assignment.
type UpdateAssignmentRequest struct {
	Title            string                   `json:"title" binding:"omitempty,min=3,max=255"`
	TimeLimitSeconds *int                     `json:"time_limit_seconds" binding:"omitempty,min=30,max=28800"`
	MaxAttempts      *int                     `json:"max_attempts" binding:"omitempty,min=1,max=10"`
	AvailableFrom    *time.Time               `json:"available_from" binding:"omitempty"`
	AvailableUntil   *time.Time               `json:"available_until" binding:"omitempty"`
	EntryToken       string                   `json:"entry_token" binding:"omitempty,min=4,max=20"`
	Policy           *ViolationPolicy         `json:"violation_policy" binding:"omitempty"`
	Environment      *EnvironmentRequirements `json:"environment" binding:"omitempty"`
	RandomizeOrder   *bool                    `json:"randomize_order" binding:"omitempty"`
}

// AssignmentPayload is the Redis-cached payload sent to students. Correct
// options, hidden test cases and expected outputs are stripped.
type AssignmentPayload struct {
	AssignmentID     uuid.UUID               `json:"assignment_id"`
	Title            string                  `json:"title"`
	Type             AssignmentType          `json:"type"`
	TimeLimitSeconds int                     `json:"time_limit_seconds"`
	Environment      EnvironmentRequirements `json:"environment"`
	Questions        []QuestionForStudent    `json:"questions"`
}
