// Package deadline derives the days remaining in a manifestation's legal
// response window. The value is a projection computed on every read, never a
// stored counter that a background job would have to tick.
package deadline

import "time"

// RemainingDays is windowDays minus the whole calendar days elapsed between
// createdAt and now, in UTC. Negative results mean the case is overdue; that
// is a valid state, not an error, so the value is never clamped.
func RemainingDays(createdAt time.Time, windowDays int, now time.Time) int {
	return windowDays - wholeDaysBetween(createdAt.UTC(), now.UTC())
}

func wholeDaysBetween(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay) / (24 * time.Hour))
}
