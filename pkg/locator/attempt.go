package locator

import "time"

// AttemptContext tracks retry progress for a single Locate call. It is
// created per call, so concurrent Locate calls never share counters.
type AttemptContext struct {
	startedAt time.Time
	deadline  time.Time
	interval  time.Duration
	attempt   int
}

func newAttemptContext(now time.Time, deadline, interval time.Duration) *AttemptContext {
	return &AttemptContext{
		startedAt: now,
		deadline:  now.Add(deadline),
		interval:  interval,
	}
}

// Begin marks the start of the next attempt and returns its ordinal,
// counting from 1.
func (a *AttemptContext) Begin() int {
	a.attempt++
	return a.attempt
}

// Attempts returns how many attempts have begun.
func (a *AttemptContext) Attempts() int { return a.attempt }

// Elapsed returns the time since the Locate call started.
func (a *AttemptContext) Elapsed() time.Duration { return time.Since(a.startedAt) }

// Expired reports whether the deadline has passed at t.
func (a *AttemptContext) Expired(t time.Time) bool { return !t.Before(a.deadline) }

// NextDelay returns the wait before the next attempt and whether another
// attempt still fits within the deadline.
func (a *AttemptContext) NextDelay(now time.Time) (time.Duration, bool) {
	next := now.Add(a.interval)
	if !next.Before(a.deadline) {
		return 0, false
	}
	return a.interval, true
}
