// Package errors provides structured errors for the task board.
//
// Every failure the board can produce carries a code, a category with
// retry semantics, and whatever context a caller needs to act on it:
// the actual task status on a conflict, a retry-after duration on a
// rate limit, the full structural error list on a schema failure.
//
// # Creating Errors
//
//	err := errors.Conflict("task is claimed, not open", "claimed",
//	    errors.WithTaskID(taskID))
//
//	err := errors.RateLimited("max 10 actions per 10 minutes", rl.RetryAfter)
//
// # Handling Errors
//
// Callers branch on codes, not messages:
//
//	if errors.Is(err, errors.ErrCodeConflict) {
//	    // lost the race; try a different task
//	}
//	if errors.Is(err, errors.ErrCodeGone) {
//	    // task permanently unworkable; stop trying it
//	}
//
// # Retry Semantics
//
// Categories define default retry behavior. Contention (conflicts) is
// deliberately non-retryable: losing a claim race means "pick another
// task", not "try again". Rate limits are retryable after the reported
// duration. The API layer maps codes to HTTP statuses via HTTPStatus.
package errors
