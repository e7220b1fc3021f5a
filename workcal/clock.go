package workcal

import (
	"math"
	"time"
)

// The shop works a fixed 07:30–16:00 day. Anything outside that window,
// and any weekend or holiday, does not count toward a deadline. If shift
// lengths ever vary these constants become per-shop configuration; until
// then every caller shares them.
const (
	WorkStartHour   = 7
	WorkStartMinute = 30
	WorkEndHour     = 16
	HoursPerWorkDay = 8.5
)

// IsWorkingDay reports whether d falls on a day work happens: not a
// Saturday, not a Sunday, and not a declared holiday.
func IsWorkingDay(d time.Time, holidays HolidaySet) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays.Contains(d)
}

// EffectiveToday returns the date used for "today" in urgency displays.
// Before the end-of-day cutoff on a working day that is now's own date;
// after the cutoff, or on a non-working day, it is the next working day.
// Holiday sets are finite, so the forward scan always terminates.
func EffectiveToday(holidays HolidaySet, now time.Time) time.Time {
	d := startOfDay(now)
	cutoff := time.Date(d.Year(), d.Month(), d.Day(), WorkEndHour, 0, 0, 0, d.Location())
	if now.Before(cutoff) && IsWorkingDay(d, holidays) {
		return d
	}
	for {
		d = d.AddDate(0, 0, 1)
		if IsWorkingDay(d, holidays) {
			return d
		}
	}
}

// ShiftToPreviousWorkingDay walks backward from d until it reaches a
// working day. Orders due on a weekend or holiday land on the prior
// working day's bucket.
func ShiftToPreviousWorkingDay(d time.Time, holidays HolidaySet) time.Time {
	d = startOfDay(d)
	for !IsWorkingDay(d, holidays) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// WorkDaysBetween returns the signed business-day distance between two
// instants: work-hours inside the 07:30–16:00 window on working days,
// divided by the hours in a workday, rounded to one decimal. Positive
// means to is in the future of from, negative means it has passed. This
// is the sole source of days-left and days-overdue figures; raw calendar
// subtraction would count nights and weekends as progress.
func WorkDaysBetween(from, to time.Time, holidays HolidaySet) float64 {
	if from.Equal(to) {
		return 0
	}
	sign := 1.0
	if to.Before(from) {
		from, to = to, from
		sign = -1
	}
	hours := workHoursBetween(from, to, holidays)
	return sign * math.Round(hours/HoursPerWorkDay*10) / 10
}

func workHoursBetween(from, to time.Time, holidays HolidaySet) float64 {
	total := 0.0
	for d := startOfDay(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if !IsWorkingDay(d, holidays) {
			continue
		}
		windowStart := time.Date(d.Year(), d.Month(), d.Day(), WorkStartHour, WorkStartMinute, 0, 0, d.Location())
		windowEnd := time.Date(d.Year(), d.Month(), d.Day(), WorkEndHour, 0, 0, 0, d.Location())
		start := windowStart
		if from.After(start) {
			start = from
		}
		end := windowEnd
		if to.Before(end) {
			end = to
		}
		if end.After(start) {
			total += end.Sub(start).Hours()
		}
	}
	return total
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
