package session

import "errors"

// Errors surfaced by the session engine. Handlers map these to API error
// codes; DeadlineExceeded stays internal and only forces transitions.
var (
	ErrAlreadyActive      = errors.New("an active session already exists for this assignment")
	ErrSessionClosed      = errors.New("session no longer accepts mutations")
	ErrSessionNotFound    = errors.New("session not found")
	ErrDeadlineExceeded   = errors.New("session deadline exceeded")
	ErrStoreUnavailable   = errors.New("session store unavailable")
	ErrUnknownQuestion    = errors.New("question is not part of this assignment")
	ErrLanguageNotAllowed = errors.New("language not allowed for this question")
	ErrNotGraded          = errors.New("session has no grading result")
)
