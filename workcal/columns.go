package workcal

import (
	"sort"
	"time"

	"github.com/JonBeak/Nexus-sub005/domain"
)

// DefaultHorizonDays bounds the forward scan so column generation
// terminates even when the holiday data is degenerate.
const DefaultHorizonDays = 90

// Column is one calendar bucket on the schedule view. Weekends never get
// a column; a holiday that falls on a weekday does (it is still a nominal
// workday slot, and shifted orders land on it visibly).
type Column struct {
	Key     string         `json:"key"`
	Date    time.Time      `json:"date"`
	Label   string         `json:"label"`
	Weekday string         `json:"weekday"`
	Working bool           `json:"working"`
	IsToday bool           `json:"isToday"`
	Orders  []domain.Order `json:"orders"`
}

// DueInstant resolves the moment an order is actually due: the exact hard
// due time when one is set, otherwise the end of the workday on the due
// date. The second return is false when the order has no due date.
func DueInstant(o domain.Order, loc *time.Location) (time.Time, bool) {
	if o.DueDate == nil {
		return time.Time{}, false
	}
	d := o.DueDate.In(loc)
	if o.HardDueTime {
		return d, true
	}
	return time.Date(d.Year(), d.Month(), d.Day(), WorkEndHour, 0, 0, 0, loc), true
}

// WorkDaysUntilDue returns the signed business-day distance from now to
// the order's due instant. The second return is false for orders without
// a due date, which carry no urgency at all.
func WorkDaysUntilDue(o domain.Order, holidays HolidaySet, now time.Time) (float64, bool) {
	due, ok := DueInstant(o, now.Location())
	if !ok {
		return 0, false
	}
	return WorkDaysBetween(now, due, holidays), true
}

// GroupByDueDate buckets orders by due date for column generation. Orders
// due on a weekend or holiday are re-keyed to the previous working day.
// Orders that are already overdue are left out: they belong to the
// overdue view, never to a forward column. Within a bucket, orders with a
// hard due time come first, then ascending due date, ties broken by ID.
func GroupByDueDate(orders []domain.Order, holidays HolidaySet, now time.Time) map[string][]domain.Order {
	grouped := make(map[string][]domain.Order)
	for _, o := range orders {
		if o.DueDate == nil {
			continue
		}
		if days, ok := WorkDaysUntilDue(o, holidays, now); ok && days < 0 {
			continue
		}
		due := o.DueDate.In(now.Location())
		if !IsWorkingDay(due, holidays) {
			due = ShiftToPreviousWorkingDay(due, holidays)
		}
		key := DateKey(due)
		grouped[key] = append(grouped[key], o)
	}
	for key := range grouped {
		bucket := grouped[key]
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].HardDueTime != bucket[j].HardDueTime {
				return bucket[i].HardDueTime
			}
			if !bucket[i].DueDate.Equal(*bucket[j].DueDate) {
				return bucket[i].DueDate.Before(*bucket[j].DueDate)
			}
			return bucket[i].ID < bucket[j].ID
		})
	}
	return grouped
}

// Columns walks forward one calendar day at a time from start, emitting a
// column per nominal workday slot until either target columns exist or
// horizonDays have been scanned. The grouped map comes from
// GroupByDueDate; now fixes the "Today"/"Tomorrow" labels.
func Columns(start time.Time, horizonDays, target int, holidays HolidaySet, grouped map[string][]domain.Order, now time.Time) []Column {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	today := EffectiveToday(holidays, now)
	tomorrow := today.AddDate(0, 0, 1)

	cols := make([]Column, 0, target)
	d := startOfDay(start)
	for scanned := 0; scanned < horizonDays && len(cols) < target; scanned++ {
		day := d
		d = d.AddDate(0, 0, 1)
		switch day.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		key := DateKey(day)
		col := Column{
			Key:     key,
			Date:    day,
			Weekday: day.Format("Mon"),
			Working: !holidays.Contains(day),
			IsToday: day.Equal(today),
			Orders:  grouped[key],
		}
		switch {
		case day.Equal(today):
			col.Label = "Today"
		case day.Equal(tomorrow):
			col.Label = "Tomorrow"
		default:
			col.Label = day.Format("Jan 2")
		}
		cols = append(cols, col)
	}
	return cols
}

// Overdue returns orders whose due instant has already passed in
// business-day terms, most overdue first. It is the companion view to the
// forward columns and the two never share an order.
func Overdue(orders []domain.Order, holidays HolidaySet, now time.Time) []domain.Order {
	type scored struct {
		order domain.Order
		days  float64
	}
	late := make([]scored, 0)
	for _, o := range orders {
		days, ok := WorkDaysUntilDue(o, holidays, now)
		if !ok || days >= 0 {
			continue
		}
		late = append(late, scored{order: o, days: days})
	}
	sort.SliceStable(late, func(i, j int) bool {
		if late[i].days != late[j].days {
			return late[i].days < late[j].days
		}
		return late[i].order.ID < late[j].order.ID
	})
	out := make([]domain.Order, len(late))
	for i, s := range late {
		out[i] = s.order
	}
	return out
}
