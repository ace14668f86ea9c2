// Package board implements the task lifecycle state machine.
//
// A task moves open → claimed → delivered → completed, with reject and
// expiry folding claimed/delivered work back to open until the attempt
// budget runs out, after which the task fails permanently:
//
//	create:   (none)     → open        attempts = 0
//	claim:    open       → claimed     attempts+1, expires_at set
//	expire:   claimed    → open|failed claim cleared (lazy or swept)
//	deliver:  claimed    → delivered   schema-gated, expires_at cleared
//	complete: delivered  → completed
//	reject:   delivered  → open|failed claim and delivery cleared
//
// disputed and expired exist in the status enum but no documented
// transition produces them; they are reserved for out-of-band injection
// and treated as terminal by result polling.
//
// # Concurrency
//
// Requests are handled independently; there is no coordinator serializing
// access to a task. Every transition is one conditional store write keyed
// on the expected prior status. If the precondition no longer holds the
// write affects zero rows and the caller gets a Conflict naming the actual
// status, never a silent overwrite. Two claimants racing on the same open
// task get exactly one winner; the loser should move on to a different
// task.
//
// # Expiry
//
// There is no background reaper. Expiry is applied lazily wherever a task
// is read and opportunistically swept before find-work polling. Both paths
// share one transition rule, so they can race each other (and any claimant)
// harmlessly.
package board
