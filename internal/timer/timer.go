// Package timer measures phase durations on the monotonic clock.
package timer

import "time"

// Handle is a started interval. time.Now carries a monotonic reading, so
// wall clock adjustments during a phase do not affect Elapsed or Split.
type Handle struct {
	start time.Time
	last  time.Time
}

// Start begins a new interval
func Start() *Handle {
	now := time.Now()
	return &Handle{start: now, last: now}
}

// Elapsed returns the time since Start
func (h *Handle) Elapsed() time.Duration {
	return time.Since(h.start)
}

// Split returns the time since the previous Split (or Start) and resets the split point
func (h *Handle) Split() time.Duration {
	now := time.Now()
	d := now.Sub(h.last)
	h.last = now
	return d
}
