package reconcile

import (
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
)

// MonthLayout is the wire format for reporting months.
const MonthLayout = "2006-01"

// ParseMonth accepts "YYYY-MM" or a first-of-month "YYYY-MM-DD" and returns the
// first day of that month at UTC midnight.
func ParseMonth(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(MonthLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, pkgerrors.InvalidArgument("malformed month %q (expected YYYY-MM)", raw)
	}
	if t.Day() != 1 {
		return time.Time{}, pkgerrors.InvalidArgument("month %q must be the first day of a month", raw)
	}
	return t, nil
}

// ValidateMonth rejects anything that is not a first-of-month UTC midnight.
func ValidateMonth(month time.Time) error {
	if month.IsZero() {
		return pkgerrors.InvalidArgument("month is required")
	}
	if month.Location() != time.UTC || month.Day() != 1 ||
		month.Hour() != 0 || month.Minute() != 0 || month.Second() != 0 || month.Nanosecond() != 0 {
		return pkgerrors.InvalidArgument("month %s must be a first-of-month UTC date", month.Format(time.RFC3339))
	}
	return nil
}

// MonthOf truncates a calendar date to its reporting month. The date's own
// calendar fields are used, so no time-zone shift can move it across a boundary.
func MonthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DateOf drops the time-of-day from t, keeping its calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Window returns the first and last calendar day of month, both inclusive.
func Window(month time.Time) (start, end time.Time) {
	start = MonthOf(month)
	end = start.AddDate(0, 1, -1)
	return start, end
}

// PreviousMonth returns the month before month.
func PreviousMonth(month time.Time) time.Time {
	return MonthOf(month).AddDate(0, -1, 0)
}

// NextMonth returns the month after month.
func NextMonth(month time.Time) time.Time {
	return MonthOf(month).AddDate(0, 1, 0)
}

// MonthsBetween lists every month from..to inclusive in ascending order.
func MonthsBetween(from, to time.Time) []time.Time {
	from, to = MonthOf(from), MonthOf(to)
	if to.Before(from) {
		return nil
	}
	var months []time.Time
	for m := from; !m.After(to); m = NextMonth(m) {
		months = append(months, m)
	}
	return months
}

// FormatMonth renders month as YYYY-MM.
func FormatMonth(month time.Time) string {
	return month.Format(MonthLayout)
}
