package board

import (
	"context"
	"encoding/json"
	"time"
)

// Patch is the field set a conditional update writes. Every transition out
// of a status is expressed as exactly one UpdateWhere carrying one Patch;
// nil pointer fields are left unchanged, and the Clear flags null out field
// groups the transition retires. The store always refreshes updated_at.
type Patch struct {
	// Status is the new status. Always set: a conditional update that
	// does not move status has no reason to exist.
	Status Status

	// Attempts, when non-nil, sets the claim count.
	Attempts *int

	// ClaimedBy/ClaimedAt/ExpiresAt, when non-nil, record a new claim.
	ClaimedBy *string
	ClaimedAt *time.Time
	ExpiresAt *time.Time

	// DeliveredAt/Result/ResultURL, when non-nil, record a delivery.
	DeliveredAt *time.Time
	Result      json.RawMessage
	ResultURL   *string

	// ClearClaim nulls claimed_by, claimed_at and expires_at.
	ClearClaim bool

	// ClearDelivery nulls delivered_at, result and result_url.
	ClearDelivery bool

	// ClearExpiry nulls expires_at only. Used on delivery, when the claim
	// can no longer lapse but its identity must survive.
	ClearExpiry bool
}

// ListFilter selects tasks for browsing.
type ListFilter struct {
	// Status filters by status. "all" or empty means every status.
	Status string

	// Tags matches tasks carrying any of these tags.
	Tags []string

	// RequiresHuman, when non-nil, filters on the requires_human flag.
	RequiresHuman *bool

	// Limit caps the page size. Offset skips rows. Listing is ordered
	// newest-created-first.
	Limit  int
	Offset int
}

// WorkFilter selects the next task for a polling worker. Selection is
// FIFO: the oldest open task matching the filter is offered first.
type WorkFilter struct {
	// Tags matches tasks carrying any of these tags. Empty matches all.
	Tags []string

	// RequiresHuman, when non-nil, filters on the requires_human flag.
	RequiresHuman *bool
}

// Store is the durable record of tasks. The conditional update is the
// board's only mutual-exclusion mechanism: implementations must apply
// UpdateWhere as a single atomic compare-and-set on status, never as a
// split read-modify-write.
type Store interface {
	// Get retrieves a task by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Task, error)

	// Insert stores a new task under its id.
	Insert(ctx context.Context, task *Task) error

	// UpdateWhere applies patch to the task iff its status still equals
	// expected, returning the updated task. Returns ErrPreconditionFailed
	// if the task exists but its status changed, ErrNotFound if absent.
	UpdateWhere(ctx context.Context, id string, expected Status, patch Patch) (*Task, error)

	// List returns a page of tasks matching the filter, newest first,
	// along with the total match count.
	List(ctx context.Context, filter ListFilter) ([]*Task, int, error)

	// NextOpen returns the oldest open task matching the filter, or nil
	// when none is eligible.
	NextOpen(ctx context.Context, filter WorkFilter) (*Task, error)

	// ListExpired returns claimed tasks whose expires_at is at or before
	// now, up to limit. Used by the expiry sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Task, error)

	// Close releases resources held by the store.
	Close() error
}
