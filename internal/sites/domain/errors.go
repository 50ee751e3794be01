package sites

import "errors"

var (
	// ErrEmptySiteID is returned when a site id is blank.
	ErrEmptySiteID = errors.New("sites: empty site id")
	// ErrSiteNotFound is returned when a site does not exist.
	ErrSiteNotFound = errors.New("sites: site not found")
	// ErrSiteDeleted is returned when a soft-deleted site is used for calculation.
	ErrSiteDeleted = errors.New("sites: site deleted")
	// ErrNegativeQuantity is returned when an equipment quantity is negative.
	ErrNegativeQuantity = errors.New("sites: negative quantity")
	// ErrInvalidProgressCategory is returned for an unknown progress category.
	ErrInvalidProgressCategory = errors.New("sites: invalid progress category")
	// ErrNegativeAmount is returned when an invoice or cost amount is negative.
	ErrNegativeAmount = errors.New("sites: negative amount")
)

// IsInputError reports whether err is caused by an invalid or missing site.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptySiteID) ||
		errors.Is(err, ErrSiteNotFound) ||
		errors.Is(err, ErrSiteDeleted) ||
		errors.Is(err, ErrNegativeQuantity) ||
		errors.Is(err, ErrInvalidProgressCategory) ||
		errors.Is(err, ErrNegativeAmount)
}
