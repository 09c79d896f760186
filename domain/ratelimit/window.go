// Package ratelimit provides pure sliding-window rate limit functions.
// All functions are deterministic with no side effects; the caller owns
// locking and storage of the per-subject state.
package ratelimit

import (
	"fmt"
	"time"
)

// Window lengths, tightest first.
const (
	WindowSecond = "second"
	WindowMinute = "minute"
)

const (
	secondDuration = time.Second
	minuteDuration = time.Minute
)

// Config holds the per-window request caps (value type).
type Config struct {
	PerSecond int // max requests in any trailing 1s
	PerMinute int // max requests in any trailing 60s
}

// Window is an ordered slice of event timestamps, oldest first.
// Invariant after Prune: every timestamp t satisfies now-t <= d.
type Window []time.Time

// State holds both sliding windows for one subject (value type).
type State struct {
	Second Window
	Minute Window
}

// Snapshot reports remaining request capacity per window.
type Snapshot struct {
	PerSecond int
	PerMinute int
}

// LimitError reports a violated window cap. It is an expected,
// recoverable condition, never an internal fault.
type LimitError struct {
	Window     string        // WindowSecond or WindowMinute
	Cap        int           // the violated cap
	RetryAfter time.Duration // time until the oldest event ages out
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("too many requests: maximum %d requests per %s allowed", e.Cap, e.Window)
}

// Prune drops all timestamps older than now-d and returns the rest.
// Timestamps exactly at the boundary are kept.
func Prune(w Window, now time.Time, d time.Duration) Window {
	i := 0
	for i < len(w) && now.Sub(w[i]) > d {
		i++
	}
	if i == 0 {
		return w
	}
	return w[i:]
}

// Count returns the number of live events after pruning.
func Count(w Window, now time.Time, d time.Duration) int {
	return len(Prune(w, now, d))
}

// Record appends now to the window unconditionally. Callers must have
// already checked the cap; separating check from record lets callers
// query remaining capacity without consuming a slot.
func Record(w Window, now time.Time) Window {
	return append(w, now)
}

// Admit prunes both windows, applies the caps tightest window first, and
// records the event in both windows on success. The returned state
// reflects pruning even when the request is denied; a denied request
// never consumes a slot.
func Admit(s State, cfg Config, now time.Time) (State, error) {
	s.Second = Prune(s.Second, now, secondDuration)
	s.Minute = Prune(s.Minute, now, minuteDuration)

	if len(s.Second) >= cfg.PerSecond {
		return s, &LimitError{
			Window:     WindowSecond,
			Cap:        cfg.PerSecond,
			RetryAfter: retryAfter(s.Second, now, secondDuration),
		}
	}
	if len(s.Minute) >= cfg.PerMinute {
		return s, &LimitError{
			Window:     WindowMinute,
			Cap:        cfg.PerMinute,
			RetryAfter: retryAfter(s.Minute, now, minuteDuration),
		}
	}

	s.Second = Record(s.Second, now)
	s.Minute = Record(s.Minute, now)
	return s, nil
}

// Remaining prunes both windows and reports how many requests each still
// admits, without recording anything. Calling it repeatedly with the
// same now yields identical results.
func Remaining(s State, cfg Config, now time.Time) (State, Snapshot) {
	s.Second = Prune(s.Second, now, secondDuration)
	s.Minute = Prune(s.Minute, now, minuteDuration)

	return s, Snapshot{
		PerSecond: clampNonNegative(cfg.PerSecond - len(s.Second)),
		PerMinute: clampNonNegative(cfg.PerMinute - len(s.Minute)),
	}
}

func retryAfter(w Window, now time.Time, d time.Duration) time.Duration {
	if len(w) == 0 {
		return 0
	}
	wait := w[0].Add(d).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
