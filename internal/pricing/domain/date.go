package pricing

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage layout of a calendar date.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date at UTC midnight.
// The calendar fields are taken in t's own location.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q must be YYYY-MM-DD", ErrInvalidDate, value)
	}
	return t.UTC(), nil
}

// FormatDate renders a date as YYYY-MM-DD; zero renders as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// PreviousDay returns the calendar day before day.
func PreviousDay(day time.Time) time.Time {
	return Day(day).AddDate(0, 0, -1)
}
