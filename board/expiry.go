package board

import (
	"context"
	"time"
)

// expiryDue reports whether a task's claim has lapsed as of now.
func expiryDue(t *Task, now time.Time) bool {
	return t.Status == StatusClaimed && t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// expiryOutcome is the status a lapsed claim reverts to: re-claimable
// while attempts remain, terminal-failed once the budget is spent.
func expiryOutcome(t *Task) Status {
	if t.Attempts >= t.MaxAttempts {
		return StatusFailed
	}
	return StatusOpen
}

// maybeExpire applies lazy expiry to a task the caller just read. If the
// claim has lapsed it issues the same conditional write a sweep would:
// claimed → open or failed, clearing the claim fields. Losing that write
// is benign (another actor already resolved it); either way the caller
// gets the freshest state this function could observe, and never a task
// it believes is claimed when it is actually reclaimable.
func (b *Board) maybeExpire(ctx context.Context, t *Task) (*Task, error) {
	now := b.nowFunc()
	if !expiryDue(t, now) {
		return t, nil
	}

	outcome := expiryOutcome(t)
	updated, err := b.store.UpdateWhere(ctx, t.ID, StatusClaimed, Patch{
		Status:     outcome,
		ClearClaim: true,
	})
	if err == ErrPreconditionFailed || err == ErrNotFound {
		// Raced: someone else expired, delivered, or otherwise moved it.
		fresh, gerr := b.store.Get(ctx, t.ID)
		if gerr != nil {
			return nil, gerr
		}
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}

	b.log.Expired(t.ID, string(outcome), t.Attempts)
	b.reindex(updated)
	return updated, nil
}

// SweepExpired batch-applies the expiry rule to every lapsed claim,
// returning how many tasks it transitioned. Invoked opportunistically
// before find-work polling; there is no background scheduler. Sweep and
// lazy expiry share the identical transition, so they can run concurrently
// and the loser of any per-task race simply observes no row changed.
func (b *Board) SweepExpired(ctx context.Context) (int, error) {
	now := b.nowFunc()

	stale, err := b.store.ListExpired(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range stale {
		outcome := expiryOutcome(t)
		updated, err := b.store.UpdateWhere(ctx, t.ID, StatusClaimed, Patch{
			Status:     outcome,
			ClearClaim: true,
		})
		if err == ErrPreconditionFailed || err == ErrNotFound {
			continue // already resolved by someone else
		}
		if err != nil {
			return count, err
		}
		b.log.Expired(t.ID, string(outcome), t.Attempts)
		b.reindex(updated)
		count++
	}
	return count, nil
}

// sweepBatchSize bounds one sweep pass. Anything left over is picked up by
// the next poll or by lazy expiry on read.
const sweepBatchSize = 100
