package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// BoardError is the interface for all structured errors produced by the
// board. It extends the standard error interface with the context callers
// need to decide between retrying, moving on to a different task, or
// giving up.
type BoardError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry decisions.
	Category() ErrorCategory

	// Retryable returns true if the same operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of BoardError.
type Error struct {
	code             ErrorCode
	category         ErrorCategory
	message          string
	cause            error
	metadata         map[string]string
	retryable        *bool // nil means use category default
	timestamp        time.Time
	taskID           string
	status           string // actual task status, for CONFLICT errors
	retryAfter       time.Duration
	validationErrors []string
	expectedSchema   json.RawMessage
}

// Ensure Error implements BoardError and json.Marshaler.
var (
	_ BoardError     = (*Error)(nil)
	_ json.Marshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// TaskID returns the related task id, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// Status returns the actual task status observed when a precondition
// failed. Only set on CONFLICT errors.
func (e *Error) Status() string {
	return e.status
}

// RetryAfter returns how long the caller should wait before retrying.
// Only set on RATE_LIMITED errors.
func (e *Error) RetryAfter() time.Duration {
	return e.retryAfter
}

// ValidationErrors returns the structural error list from a failed schema
// check. Only set on VALIDATION_FAILED errors.
func (e *Error) ValidationErrors() []string {
	return e.validationErrors
}

// ExpectedSchema returns the schema the result was expected to satisfy.
// Only set on VALIDATION_FAILED errors from delivery.
func (e *Error) ExpectedSchema() json.RawMessage {
	return e.expectedSchema
}

// errorJSON is the wire representation of an Error.
type errorJSON struct {
	Code             ErrorCode         `json:"code"`
	Category         ErrorCategory     `json:"category"`
	Error            string            `json:"error"`
	Status           string            `json:"status,omitempty"`
	TaskID           string            `json:"task_id,omitempty"`
	RetryAfterSec    int               `json:"retry_after_seconds,omitempty"`
	ValidationErrors []string          `json:"validation_errors,omitempty"`
	ExpectedSchema   json.RawMessage   `json:"expected_schema,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Retryable        bool              `json:"retryable"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:             e.code,
		Category:         e.category,
		Error:            e.Error(),
		Status:           e.status,
		TaskID:           e.taskID,
		ValidationErrors: e.validationErrors,
		ExpectedSchema:   e.expectedSchema,
		Metadata:         e.metadata,
		Retryable:        e.Retryable(),
	}
	if e.retryAfter > 0 {
		secs := int(e.retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		j.RetryAfterSec = secs
	}
	return json.Marshal(j)
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithTaskID sets the related task id.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithStatus records the actual task status observed when a precondition
// failed, so the caller can decide whether the task is worth revisiting.
func WithStatus(status string) Option {
	return func(e *Error) {
		e.status = status
	}
}

// WithRetryAfter sets a concrete wait duration for rate-limited callers.
func WithRetryAfter(d time.Duration) Option {
	return func(e *Error) {
		e.retryAfter = d
	}
}

// WithValidationErrors attaches the structural error list from a schema check.
func WithValidationErrors(errs []string) Option {
	return func(e *Error) {
		e.validationErrors = errs
	}
}

// WithExpectedSchema attaches the schema the result was checked against.
func WithExpectedSchema(schema json.RawMessage) Option {
	return func(e *Error) {
		e.expectedSchema = schema
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string, opts ...Option) *Error {
	return New(ErrCodeUnauthorized, message, opts...)
}

// Conflict creates a conflict error carrying the actual observed status.
func Conflict(message string, actualStatus string, opts ...Option) *Error {
	opts = append([]Option{WithStatus(actualStatus)}, opts...)
	return New(ErrCodeConflict, message, opts...)
}

// Gone creates a gone error for a permanently unworkable task.
func Gone(message string, opts ...Option) *Error {
	return New(ErrCodeGone, message, opts...)
}

// ValidationFailed creates a validation error carrying the structural
// error list.
func ValidationFailed(message string, errs []string, opts ...Option) *Error {
	opts = append([]Option{WithValidationErrors(errs)}, opts...)
	return New(ErrCodeValidationFailed, message, opts...)
}

// RateLimited creates a rate limit error with a concrete retry-after.
func RateLimited(message string, retryAfter time.Duration, opts ...Option) *Error {
	opts = append([]Option{WithRetryAfter(retryAfter)}, opts...)
	return New(ErrCodeRateLimited, message, opts...)
}

// PayloadTooLarge creates a payload size error.
func PayloadTooLarge(message string, opts ...Option) *Error {
	return New(ErrCodePayloadTooLarge, message, opts...)
}

// BadInput creates an invalid input error.
func BadInput(message string, opts ...Option) *Error {
	return New(ErrCodeBadInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
