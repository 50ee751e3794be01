package revenue

import "errors"

var (
	// ErrInvalidDate is returned when the calculation date is zero.
	ErrInvalidDate = errors.New("revenue: invalid calculation date")
	// ErrNilSite is returned when no site is given to the calculator.
	ErrNilSite = errors.New("revenue: nil site")
	// ErrCalculationNotFound is returned when a stored calculation does not exist.
	ErrCalculationNotFound = errors.New("revenue: calculation not found")
)

// IsInputError reports whether err is caused by invalid caller input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidDate) || errors.Is(err, ErrNilSite)
}
