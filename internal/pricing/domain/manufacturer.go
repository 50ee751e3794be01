package pricing

import "strings"

// NormalizeManufacturer folds case and collapses whitespace so that
// "  Acme  Corp" and "acme corp" resolve to the same key.
func NormalizeManufacturer(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
