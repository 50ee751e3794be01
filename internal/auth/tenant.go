package auth

import (
	"context"
	"errors"
)

// ErrTenantMismatch is returned when the caller belongs to another tenant.
var ErrTenantMismatch = errors.New("auth: tenant mismatch")

// TenantGuard checks that a caller's tenant matches the tenant this process
// serves. Every repository is scoped to that single tenant.
type TenantGuard struct {
	tenantID string
}

// NewTenantGuard constructs a guard for tenantID.
func NewTenantGuard(tenantID string) *TenantGuard {
	return &TenantGuard{tenantID: tenantID}
}

// Ensure returns ErrTenantMismatch when ctx carries a different tenant.
// Requests without identity (auth disabled) pass.
func (g *TenantGuard) Ensure(ctx context.Context) error {
	if g == nil || g.tenantID == "" {
		return nil
	}
	tenantID := TenantIDFromContext(ctx)
	if tenantID == "" {
		return nil
	}
	if tenantID != g.tenantID {
		return ErrTenantMismatch
	}
	return nil
}

// TenantID returns the served tenant.
func (g *TenantGuard) TenantID() string {
	if g == nil {
		return ""
	}
	return g.tenantID
}
