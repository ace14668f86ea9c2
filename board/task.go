package board

import (
	"encoding/json"
	"errors"
	"time"
)

// Store contract errors.
var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrPreconditionFailed indicates a conditional update matched no row:
	// the task was no longer in the expected status at write time.
	ErrPreconditionFailed = errors.New("task not in expected status")
)

// Status represents the current state of a task.
type Status string

const (
	// StatusOpen indicates the task is waiting to be claimed.
	StatusOpen Status = "open"

	// StatusClaimed indicates one worker holds a time-boxed claim.
	StatusClaimed Status = "claimed"

	// StatusDelivered indicates a result is in and awaits the poster's
	// verdict.
	StatusDelivered Status = "delivered"

	// StatusCompleted indicates the poster accepted the delivery.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task is permanently unworkable.
	StatusFailed Status = "failed"

	// StatusDisputed is reserved. No documented transition produces it;
	// it is only observable if injected out-of-band.
	StatusDisputed Status = "disputed"

	// StatusExpired is reserved, like StatusDisputed.
	StatusExpired Status = "expired"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusDelivered, StatusCompleted,
		StatusFailed, StatusDisputed, StatusExpired:
		return true
	default:
		return false
	}
}

// TerminalForPoster reports whether a poster waiting for results should
// stop polling: a result is in, or the task can never produce one.
func (s Status) TerminalForPoster() bool {
	switch s {
	case StatusDelivered, StatusCompleted, StatusFailed, StatusExpired, StatusDisputed:
		return true
	default:
		return false
	}
}

// Task is a unit of work posted to the board.
type Task struct {
	// ID is the unique task identifier.
	ID string `json:"id"`

	// Title is the short human-readable summary. Required.
	Title string `json:"title"`

	// Description elaborates on the work. Optional.
	Description string `json:"description,omitempty"`

	// Input is the free-form payload the worker needs. Optional.
	Input json.RawMessage `json:"input,omitempty"`

	// Tags are match keys for task discovery.
	Tags []string `json:"tags"`

	// RequiresHuman marks tasks needing a human in the loop.
	RequiresHuman bool `json:"requires_human"`

	// PostedBy identifies the poster. Free text; defaults to a truncated
	// form of the poster's API key.
	PostedBy string `json:"posted_by"`

	// BudgetCents is informational only. The board never settles payment.
	BudgetCents int `json:"budget_cents"`

	// CallbackURL is stored and returned verbatim, never fetched.
	CallbackURL string `json:"callback_url,omitempty"`

	// OutputSchema is the structural contract the result must satisfy.
	// Optional; when set, deliveries are gated against it.
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	// TimeoutMinutes is the claim-to-delivery budget, 1-1440.
	TimeoutMinutes int `json:"timeout_minutes"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// ClaimedBy identifies the current (or delivering) claimant.
	// Set on claim, cleared on reject and expiry, preserved through
	// delivery so the poster can see who did the work.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// ClaimedAt is when the current claim was taken.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// ExpiresAt is when the claim lapses. Set iff Status is claimed.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// DeliveredAt is when the result came in.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// Result is the delivered payload. Nil unless delivered or completed.
	Result json.RawMessage `json:"result,omitempty"`

	// ResultURL points at an externally hosted result. Stored verbatim.
	ResultURL string `json:"result_url,omitempty"`

	// Attempts counts claims taken, including the current one.
	Attempts int `json:"attempts"`

	// MaxAttempts is the hard ceiling on claims. Once reached, the task
	// fails permanently.
	MaxAttempts int `json:"max_attempts"`

	// CreatedAt is when the task was posted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	clone := *t

	if t.Tags != nil {
		clone.Tags = make([]string, len(t.Tags))
		copy(clone.Tags, t.Tags)
	}
	if t.Input != nil {
		clone.Input = make(json.RawMessage, len(t.Input))
		copy(clone.Input, t.Input)
	}
	if t.OutputSchema != nil {
		clone.OutputSchema = make(json.RawMessage, len(t.OutputSchema))
		copy(clone.OutputSchema, t.OutputSchema)
	}
	if t.Result != nil {
		clone.Result = make(json.RawMessage, len(t.Result))
		copy(clone.Result, t.Result)
	}
	if t.ClaimedAt != nil {
		v := *t.ClaimedAt
		clone.ClaimedAt = &v
	}
	if t.ExpiresAt != nil {
		v := *t.ExpiresAt
		clone.ExpiresAt = &v
	}
	if t.DeliveredAt != nil {
		v := *t.DeliveredAt
		clone.DeliveredAt = &v
	}

	return &clone
}

// HasTag reports whether the task carries any of the given tags.
// An empty filter matches every task.
func (t *Task) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range t.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}
