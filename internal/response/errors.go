package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrDeviceConflict     ErrCode = "DEVICE_CONFLICT"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden            ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly    ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInstructorAccessOnly ErrCode = "INSTRUCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Assignment access ─────────────────────────────────────────────
	ErrAssignmentNotAvailable ErrCode = "ASSIGNMENT_NOT_AVAILABLE"
	ErrAssignmentNotPublished ErrCode = "ASSIGNMENT_NOT_PUBLISHED"
	ErrAssignmentNotDraft     ErrCode = "ASSIGNMENT_NOT_DRAFT"
	ErrNotAssignmentAuthor    ErrCode = "NOT_ASSIGNMENT_AUTHOR"
	ErrInvalidEntryToken      ErrCode = "INVALID_ENTRY_TOKEN"
	ErrNoQuestions            ErrCode = "NO_QUESTIONS"
	ErrMaxAttemptsReached     ErrCode = "MAX_ATTEMPTS_REACHED"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionClosed      ErrCode = "SESSION_CLOSED"
	ErrSessionNotFound    ErrCode = "SESSION_NOT_FOUND"
	ErrResultNotReady     ErrCode = "RESULT_NOT_READY"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrLanguageNotAllowed ErrCode = "LANGUAGE_NOT_ALLOWED"
	ErrSubmitFailed       ErrCode = "SUBMIT_FAILED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid username or password."
	case ErrDeviceConflict:
		return "You are already signed in on another device."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is not valid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrInstructorAccessOnly:
		return "This resource is restricted to instructors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "The ID format is not valid."
	case ErrInvalidPayload:
		return "The request payload is not valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."
	case ErrConflict:
		return "The resource already exists."
	case ErrActionForbidden:
		return "This action is not allowed."

	// ─── Assignment access ─────────────────────────────────────────────
	case ErrAssignmentNotAvailable:
		return "This assignment is not available right now."
	case ErrAssignmentNotPublished:
		return "This assignment has not been published."
	case ErrAssignmentNotDraft:
		return "This assignment is not in DRAFT status."
	case ErrNotAssignmentAuthor:
		return "You are not the author of this assignment."
	case ErrInvalidEntryToken:
		return "The assignment entry token is not valid."
	case ErrNoQuestions:
		return "This assignment has no questions."
	case ErrMaxAttemptsReached:
		return "You have used all attempts for this assignment."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionActive:
		return "You already have an active attempt for this assignment."
	case ErrSessionClosed:
		return "This attempt has ended and no longer accepts changes."
	case ErrSessionNotFound:
		return "The attempt was not found."
	case ErrResultNotReady:
		return "The result is not ready yet."
	case ErrUnknownQuestion:
		return "The question does not belong to this assignment."
	case ErrLanguageNotAllowed:
		return "This language is not allowed for the question."
	case ErrSubmitFailed:
		return "The submission could not be stored. Staff have been notified."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
