package closing

import "errors"

var (
	// ErrInvalidMonth is returned for a year/month outside the calendar.
	ErrInvalidMonth = errors.New("closing: invalid year or month")
	// ErrClosingNotFound is returned when a month has not been closed yet.
	ErrClosingNotFound = errors.New("closing: not found")
)

// IsInputError reports whether err is caused by invalid caller input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidMonth)
}
