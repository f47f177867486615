package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotFound         ErrCode = "EXAM_NOT_FOUND"
	ErrResultNotFound       ErrCode = "RESULT_NOT_FOUND"
	ErrInvalidQuestionIndex ErrCode = "INVALID_QUESTION_INDEX"
	ErrAttemptCompleted     ErrCode = "ATTEMPT_COMPLETED"
	ErrSessionStale         ErrCode = "SESSION_STALE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	case ErrExamNotFound:
		return "Exam not found."
	case ErrResultNotFound:
		return "No result exists for this exam yet."
	case ErrInvalidQuestionIndex:
		return "Question index is out of range."
	case ErrAttemptCompleted:
		return "This exam has already been submitted."
	case ErrSessionStale:
		return "This exam was continued in another window. Reload to resume."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
