package auth

import "strings"

// Role is a caller's permission tier. Higher tiers include the lower ones.
type Role string

const (
	// RoleViewer reads prices, calculations and closings.
	RoleViewer Role = "viewer"
	// RoleOperator may additionally run calculations.
	RoleOperator Role = "operator"
	// RoleAdmin edits pricing, runs closings and batch recalculation.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole accepts a role name regardless of case and surrounding space.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// Satisfies reports whether r is at or above required. Unknown roles
// satisfy nothing.
func (r Role) Satisfies(required Role) bool {
	rank, ok := roleRanks[r]
	if !ok {
		return false
	}
	return rank >= roleRanks[required]
}
