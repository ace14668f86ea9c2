// Package ratelimit bounds per-actor action frequency on the board.
//
// Every inbound action passes a named policy before touching the task
// store. Counters are fixed-window: the first action (or the first after
// the window elapses) resets the count to 1 and allows; further actions
// increment, and anything past the limit is denied with the time left
// until reset.
//
//	limiter := ratelimit.NewMemoryLimiter()
//
//	d := limiter.Allow(ratelimit.TaskAction, apiKey)
//	if !d.Allowed {
//	    return errors.RateLimited("max 10 actions per 10 minutes", d.RetryAfter)
//	}
//
// Policies namespace their counters, so one actor's claim storm cannot
// consume its own read quota, let alone another actor's. Check never
// returns an error; callers branch on Decision.Allowed.
//
// Counters are process-local and ephemeral. A restart forgets them and
// fails open, which is the right trade for abuse control. The Limiter
// interface is the swap point for a distributed counter.
package ratelimit
