package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled by callers.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: a poll deadline elapsing, a store round trip timing out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retrying the same call will
	// not help. Examples: unknown task id, invalid input, missing credential.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryContention indicates the caller lost a race for a task and
	// should try a different task rather than retry the same id.
	CategoryContention ErrorCategory = "contention"

	// CategoryResource indicates quota exhaustion, typically rate limiting.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
// Contention is deliberately not retryable: the loser of a claim race must
// pick a different task, not hammer the same one.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

// Error codes for the board's failure taxonomy.
const (
	// ErrCodeNotFound means the task (or key) does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeUnauthorized means the credential is missing or invalid.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeConflict means a precondition failed: the task is not in the
	// state the caller expected, most likely because another actor raced it.
	// The error carries the actual observed status in its metadata.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeGone means the task's attempt budget is exhausted and it is
	// permanently unworkable. Distinct from CONFLICT: there is no point
	// retrying this task with any actor.
	ErrCodeGone ErrorCode = "GONE"

	// ErrCodeValidationFailed means a declared schema was malformed or a
	// delivered result failed the task's output schema. The error carries
	// the full structural error list.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrCodeRateLimited means the actor exceeded a rate-limit policy.
	// The error carries a concrete retry-after duration.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodePayloadTooLarge means the request body exceeded the size ceiling.
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrCodeBadInput means malformed input: missing title, oversized fields,
	// bad JSON, unsafe callback URL. Rejected before any state mutation.
	ErrCodeBadInput ErrorCode = "BAD_INPUT"

	// ErrCodeTimeout means a bounded operation ran out of time.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeCanceled means the operation's context was canceled.
	ErrCodeCanceled ErrorCode = "CANCELED"

	// ErrCodeInternal means an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeConflict:
		return CategoryContention
	case ErrCodeRateLimited:
		return CategoryResource
	case ErrCodeNotFound, ErrCodeUnauthorized, ErrCodeGone,
		ErrCodeValidationFailed, ErrCodePayloadTooLarge, ErrCodeBadInput,
		ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// HTTPStatus returns the HTTP status code conventionally used for this
// error code by the API layer.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeNotFound:
		return 404
	case ErrCodeUnauthorized:
		return 401
	case ErrCodeConflict:
		return 409
	case ErrCodeGone:
		return 410
	case ErrCodeValidationFailed:
		return 422
	case ErrCodeRateLimited:
		return 429
	case ErrCodePayloadTooLarge:
		return 413
	case ErrCodeBadInput:
		return 400
	case ErrCodeTimeout:
		return 504
	default:
		return 500
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeNotFound:         "task not found",
	ErrCodeUnauthorized:     "valid API key required",
	ErrCodeConflict:         "task is not in the expected state",
	ErrCodeGone:             "task is permanently unworkable",
	ErrCodeValidationFailed: "result does not match the required output schema",
	ErrCodeRateLimited:      "rate limit exceeded",
	ErrCodePayloadTooLarge:  "payload too large",
	ErrCodeBadInput:         "invalid input",
	ErrCodeTimeout:          "operation timed out",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeInternal:         "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
