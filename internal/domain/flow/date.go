// Package flow defines daily flow snapshots and the pure computations over them:
// aggregation from card events, WIP violation detection and series shaping.
package flow

import (
	"time"

	"github.com/Strob0t/flowboard/internal/domain"
)

const dateLayout = "2006-01-02"

// Date is a calendar day in a board's timezone, formatted YYYY-MM-DD.
// Lexical order equals chronological order.
type Date string

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", domain.Validationf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format(dateLayout))
}

// DateFromTime converts a storage midnight (any zone) back to a Date using
// its own calendar fields.
func DateFromTime(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

func (d Date) String() string { return string(d) }

func (d Date) civil() (int, time.Month, int) {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return 1970, time.January, 1
	}
	return t.Date()
}

// Time returns midnight UTC of the day, used as the storage value.
func (d Date) Time() time.Time {
	y, m, day := d.civil()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// Bounds returns [start, end) of the day in loc. Computed from calendar
// fields so days around DST changes have their true length.
func (d Date) Bounds(loc *time.Location) (start, end time.Time) {
	y, m, day := d.civil()
	start = time.Date(y, m, day, 0, 0, 0, 0, loc)
	end = time.Date(y, m, day+1, 0, 0, 0, 0, loc)
	return start, end
}

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date {
	y, m, day := d.civil()
	return Date(time.Date(y, m, day+n, 0, 0, 0, 0, time.UTC).Format(dateLayout))
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d < o }
