// Package workcal implements the business-day arithmetic behind every
// "days left" and "days overdue" figure on the board, plus the calendar
// column layout derived from it. All functions are pure: the holiday set
// and the current time are explicit arguments, never ambient state.
package workcal

import "time"

const dateKeyLayout = "2006-01-02"

// HolidaySet holds calendar dates that are non-working even though they
// fall on a weekday. It is loaded once per session and treated as
// immutable for the duration of any computation that uses it.
type HolidaySet map[string]struct{}

// NewHolidaySet builds a set from the provider's dates. Time-of-day and
// zone offsets are discarded: holidays have ISO date granularity.
func NewHolidaySet(dates ...time.Time) HolidaySet {
	h := make(HolidaySet, len(dates))
	for _, d := range dates {
		h[d.Format(dateKeyLayout)] = struct{}{}
	}
	return h
}

// Add records a single holiday date.
func (h HolidaySet) Add(d time.Time) {
	h[d.Format(dateKeyLayout)] = struct{}{}
}

// Contains reports whether d's calendar date is a declared holiday.
func (h HolidaySet) Contains(d time.Time) bool {
	_, ok := h[d.Format(dateKeyLayout)]
	return ok
}

// DateKey renders t's calendar date as the canonical bucket key.
func DateKey(t time.Time) string {
	return t.Format(dateKeyLayout)
}
