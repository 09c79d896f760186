// Package quota provides pure functions for daily consumption quotas.
// All functions are deterministic with no side effects; the caller owns
// locking and storage of the per-subject usage record.
package quota

import (
	"fmt"
	"time"
)

// Scopes for quota violations.
const (
	ScopeRequest = "per_request"
	ScopeDay     = "per_day"
)

// Day identifies a calendar day in the quota location ("2006-01-02").
type Day string

// DayOf returns the calendar day of t in the given location.
func DayOf(t time.Time, loc *time.Location) Day {
	return Day(t.In(loc).Format("2006-01-02"))
}

// Config holds the consumption ceilings (value type).
type Config struct {
	MaxPerRequest int64 // max units a single request may ask for
	MaxPerDay     int64 // max units per subject per calendar day
}

// Usage is the per-subject daily consumption record (value type).
// Invariant: Day equals the calendar day of the last now used to mutate
// it, and Used >= 0.
type Usage struct {
	Day  Day
	Used int64
}

// QuotaError reports a violated consumption ceiling. Used is only
// meaningful for ScopeDay.
type QuotaError struct {
	Scope     string // ScopeRequest or ScopeDay
	Used      int64
	Requested int64
	Max       int64
}

func (e *QuotaError) Error() string {
	if e.Scope == ScopeRequest {
		return fmt.Sprintf("requested tokens (%d) exceeds maximum allowed per request (%d)", e.Requested, e.Max)
	}
	return fmt.Sprintf("daily token limit exceeded: used %d, requested %d, max %d", e.Used, e.Requested, e.Max)
}

// Rollover resets the usage record when the stored day differs from
// today. Applying it twice with the same today is a no-op.
func Rollover(u Usage, today Day) Usage {
	if u.Day != today {
		return Usage{Day: today, Used: 0}
	}
	return u
}

// CheckRequest fails when a single request asks for more units than the
// per-request ceiling allows. Pure check, no state involved.
func CheckRequest(requested int64, cfg Config) error {
	if requested > cfg.MaxPerRequest {
		return &QuotaError{Scope: ScopeRequest, Requested: requested, Max: cfg.MaxPerRequest}
	}
	return nil
}

// CheckDay rolls the usage record over to a fresh day if needed, then
// fails when admitting the requested units would exceed the daily
// ceiling. The addition is NOT committed: actual consumption is only
// known after the upstream call, so Commit is a separate step. The
// returned usage carries the rollover even on denial.
func CheckDay(u Usage, requested int64, today Day, cfg Config) (Usage, error) {
	u = Rollover(u, today)
	if u.Used+requested > cfg.MaxPerDay {
		return u, &QuotaError{Scope: ScopeDay, Used: u.Used, Requested: requested, Max: cfg.MaxPerDay}
	}
	return u, nil
}

// Commit rolls the day over if needed, adds the actually consumed units,
// and returns the new usage plus the remaining daily budget. Remaining
// clamps to 0 for display even when concurrent commits overshoot the
// ceiling between check and commit.
func Commit(u Usage, actual int64, today Day, cfg Config) (Usage, int64) {
	u = Rollover(u, today)
	u.Used += actual

	remaining := cfg.MaxPerDay - u.Used
	if remaining < 0 {
		remaining = 0
	}
	return u, remaining
}

// RemainingToday reports the remaining daily budget after rollover,
// clamped to 0, without committing anything.
func RemainingToday(u Usage, today Day, cfg Config) (Usage, int64) {
	u = Rollover(u, today)
	remaining := cfg.MaxPerDay - u.Used
	if remaining < 0 {
		remaining = 0
	}
	return u, remaining
}
