package agenda

import "time"

// DaySeconds is the length of a day's query range [start, start+86400s).
// Steps between calendar days use AddDays.
const DaySeconds = 86400

// StartOfDay returns midnight of t's calendar day in loc, expressed in UTC.
// A nil loc uses t's own location.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).UTC()
}

// DayRange returns the half-open range [start, end) of t's day in loc.
func DayRange(t time.Time, loc *time.Location) (start, end time.Time) {
	start = StartOfDay(t, loc)
	return start, start.Add(DaySeconds * time.Second)
}

// InDay reports whether the item's Time falls within day's range.
func InDay(item Item, day time.Time, loc *time.Location) bool {
	start, end := DayRange(day, loc)
	t := item.Header().Time
	return !t.Before(start) && t.Before(end)
}

// WeekStart returns the start of the seven-day strip containing t, with
// the strip beginning on the given weekday.
func WeekStart(t time.Time, loc *time.Location, first time.Weekday) time.Time {
	day := StartOfDay(t, loc)
	local := day
	if loc != nil {
		local = day.In(loc)
	}
	offset := (int(local.Weekday()) - int(first) + 7) % 7
	return AddDays(day, -offset, loc)
}

// AddDays returns midnight of the calendar day n days after day's day in
// loc, expressed in UTC. It follows the calendar across DST changes.
func AddDays(day time.Time, n int, loc *time.Location) time.Time {
	if loc != nil {
		day = day.In(loc)
	}
	return StartOfDay(day.AddDate(0, 0, n), nil)
}

// DaysBetween returns the number of calendar days from a's day to b's day
// in loc.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	return int(civil(b, loc).Sub(civil(a, loc)) / (24 * time.Hour))
}

// civil maps t's calendar date in loc onto UTC midnight, where every day
// is 24h long.
func civil(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
