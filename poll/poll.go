// Package poll provides the bounded wait primitive used by the booking
// state machine. Waits are expressed as scheduled re-checks at a fixed
// interval with a hard deadline — never busy loops — which keeps the
// state transition logic free of timer bookkeeping.
package poll

import (
	"context"
	"time"
)

// Result reports how a wait ended.
type Result int

const (
	// OK means the predicate became true before the deadline.
	OK Result = iota
	// Timeout means the deadline passed with the predicate still false.
	Timeout
	// Cancelled means the context ended first.
	Cancelled
)

// Until re-checks pred every interval until it returns true, the deadline
// elapses, or ctx is cancelled. The predicate is evaluated once immediately,
// so an already-true condition never waits a full interval.
func Until(ctx context.Context, interval, deadline time.Duration, pred func() bool) Result {
	if pred() {
		return OK
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Cancelled
		case <-timer.C:
			return Timeout
		case <-ticker.C:
			if pred() {
				return OK
			}
		}
	}
}
