package pricing

import "errors"

var (
	// ErrInvalidKind is returned when a version kind is unsupported.
	ErrInvalidKind = errors.New("pricing: invalid kind")
	// ErrEmptyKey is returned when the primary or manufacturer key is empty.
	ErrEmptyKey = errors.New("pricing: empty key")
	// ErrInvalidDate is returned when a date is zero.
	ErrInvalidDate = errors.New("pricing: invalid date")
	// ErrNegativeValue is returned when a version value is negative.
	ErrNegativeValue = errors.New("pricing: negative value")
	// ErrInvalidInterval is returned when effective_to precedes effective_from.
	ErrInvalidInterval = errors.New("pricing: invalid interval")
	// ErrVersionNotFound is returned when a version id does not exist.
	ErrVersionNotFound = errors.New("pricing: version not found")
	// ErrTransactionFailed wraps a failed close-old/open-new write; state was rolled back.
	ErrTransactionFailed = errors.New("pricing: transaction failed")
)

// IsInputError reports whether err is caused by invalid caller input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrEmptyKey) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrInvalidInterval)
}
