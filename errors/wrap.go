package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error
// chain. If err is nil, Wrap returns nil. If err is already a board Error,
// its code, category and context survive the wrapping.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var boardErr *Error
	if errors.As(err, &boardErr) {
		wrapped := &Error{
			code:             boardErr.code,
			category:         boardErr.category,
			message:          message,
			cause:            err,
			metadata:         boardErr.Metadata(),
			retryable:        boardErr.retryable,
			taskID:           boardErr.taskID,
			status:           boardErr.status,
			retryAfter:       boardErr.retryAfter,
			validationErrors: boardErr.validationErrors,
			expectedSchema:   boardErr.expectedSchema,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// AsBoardError extracts a BoardError from an error chain.
// Returns nil if no BoardError is found.
func AsBoardError(err error) BoardError {
	var boardErr *Error
	if errors.As(err, &boardErr) {
		return boardErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var boardErr *Error
	if errors.As(err, &boardErr) {
		return boardErr.code == code
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not a board Error.
func Code(err error) ErrorCode {
	var boardErr *Error
	if errors.As(err, &boardErr) {
		return boardErr.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
func Category(err error) ErrorCategory {
	var boardErr *Error
	if errors.As(err, &boardErr) {
		return boardErr.category
	}
	return ""
}

// IsRetryable checks if the error is retryable.
// Non-board errors default to not retryable.
func IsRetryable(err error) bool {
	var boardErr *Error
	if errors.As(err, &boardErr) {
		return boardErr.Retryable()
	}
	return false
}

// HTTPStatus returns the HTTP status for an error's code.
// Non-board errors map to 500.
func HTTPStatus(err error) int {
	var boardErr *Error
	if errors.As(err, &boardErr) {
		return boardErr.code.HTTPStatus()
	}
	return 500
}
