package ratelimit

import "time"

// Policy names a (limit, window) pair applied to a key namespace.
// Distinct policies keep separate counters for the same actor, so a worker
// burning its action quota does not lose its read quota.
type Policy struct {
	// Name prefixes the counter key. Must be unique across policies.
	Name string

	// Limit is the number of actions allowed per window.
	Limit int

	// Window is the counting period.
	Window time.Duration
}

// The board's named policies. Keys are API keys for credentialed actions
// and source addresses for anonymous ones.
var (
	// KeyMint limits API-key issuance: one per source address per day.
	KeyMint = Policy{Name: "keycreate", Limit: 1, Window: 24 * time.Hour}

	// TaskCreate limits task creation: one per key per 10 minutes.
	TaskCreate = Policy{Name: "task", Limit: 1, Window: 10 * time.Minute}

	// TaskAction limits claim/deliver/complete/reject: 10 per key per
	// 10 minutes.
	TaskAction = Policy{Name: "action", Limit: 10, Window: 10 * time.Minute}

	// Read limits plain reads: 120 per source address per minute.
	Read = Policy{Name: "read", Limit: 120, Window: time.Minute}

	// Poll limits long-poll reads (find-work, wait-for-result) separately
	// from plain reads, at the same ceiling, so polling workers do not
	// starve their own browsing quota.
	Poll = Policy{Name: "poll", Limit: 120, Window: time.Minute}
)

// PolicySet bundles the board's policies so deployments can override
// limits without touching the routes that apply them.
type PolicySet struct {
	KeyMint    Policy
	TaskCreate Policy
	TaskAction Policy
	Read       Policy
	Poll       Policy
}

// DefaultPolicies returns the stock policy set.
func DefaultPolicies() PolicySet {
	return PolicySet{
		KeyMint:    KeyMint,
		TaskCreate: TaskCreate,
		TaskAction: TaskAction,
		Read:       Read,
		Poll:       Poll,
	}
}
