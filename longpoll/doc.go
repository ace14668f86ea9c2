// Package longpoll provides the bounded-retry wait loop shared by the
// board's two polling roles: workers looking for the next open task and
// posters waiting for a result.
//
// Both roles have the same shape (probe, sleep a fixed interval, probe
// again, give up at a deadline), so both go through one generic helper
// parameterized by a single-shot lookup:
//
//	task, retry, err := longpoll.Wait(ctx, longpoll.Config{Timeout: 8 * time.Second},
//	    func(ctx context.Context) (*board.Task, bool, error) {
//	        t, err := store.NextOpen(ctx, filter)
//	        if err != nil || t == nil {
//	            return nil, false, err
//	        }
//	        return t, true, nil
//	    })
//
// A retry=true return means "nothing yet, reconnect immediately": the
// server has already spent the allotted wait, so the client re-issues the
// call instead of backing off. Timeouts are clamped to 25 seconds so no
// connection outlives a serverless request ceiling.
package longpoll
