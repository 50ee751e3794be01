package closing

import (
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// Period is the half-open window [Start, End) of one calendar month.
type Period struct {
	Year  int
	Month time.Month
	Start time.Time
	End   time.Time
}

// NewPeriod validates year/month and computes the window. December rolls
// over to January of the next year.
func NewPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("%w: %d-%d", ErrInvalidMonth, year, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	endYear, endMonth := year, month+1
	if endMonth > 12 {
		endYear, endMonth = year+1, 1
	}
	end := time.Date(endYear, time.Month(endMonth), 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: year, Month: time.Month(month), Start: start, End: end}, nil
}

// ParsePeriod parses YYYY-MM.
func ParsePeriod(value string) (Period, error) {
	t, err := time.Parse(monthLayout, value)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q must be YYYY-MM", ErrInvalidMonth, value)
	}
	return NewPeriod(t.Year(), int(t.Month()))
}

// Previous returns the month before p.
func (p Period) Previous() Period {
	prev := p.Start.AddDate(0, -1, 0)
	out, _ := NewPeriod(prev.Year(), int(prev.Month()))
	return out
}

// Contains reports whether day falls in [Start, End).
func (p Period) Contains(day time.Time) bool {
	return !day.Before(p.Start) && day.Before(p.End)
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return p.Start.Format(monthLayout)
}
