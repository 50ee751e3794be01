package sites

import (
	"context"
	"fmt"
	"time"
)

// ProgressCategory is the commercial track of a site. It selects which invoice
// amounts count as revenue.
type ProgressCategory string

const (
	ProgressSubsidy      ProgressCategory = "subsidy"
	ProgressSelfPay      ProgressCategory = "self_pay"
	ProgressAgency       ProgressCategory = "agency"
	ProgressAfterService ProgressCategory = "after_service"
)

// IsValid reports whether the category is supported.
func (c ProgressCategory) IsValid() bool {
	switch c {
	case ProgressSubsidy, ProgressSelfPay, ProgressAgency, ProgressAfterService:
		return true
	default:
		return false
	}
}

// Invoices holds the invoice amounts issued for a site. Subsidy sites bill
// First/Second, every other track bills Advance/Balance.
type Invoices struct {
	First   int64 `json:"first"`
	Second  int64 `json:"second"`
	Advance int64 `json:"advance"`
	Balance int64 `json:"balance"`
}

// Site is an installation site.
type Site struct {
	ID               string
	Manufacturer     string
	SalesOffice      string
	ProgressCategory ProgressCategory
	InstalledAt      *time.Time
	Quantities       map[string]int64
	Invoices         Invoices

	// AdminAdjustedCommission replaces the rate-table commission when set.
	AdminAdjustedCommission *int64
	CommissionAdjustReason  string
	CommissionAdjustedBy    string

	SurveyCost       *int64
	InstallationCost *int64
	MiscCost         int64

	Inactive  bool
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks site invariants.
func (s Site) Validate() error {
	if s.ID == "" {
		return ErrEmptySiteID
	}
	if !s.ProgressCategory.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidProgressCategory, s.ProgressCategory)
	}
	for key, qty := range s.Quantities {
		if qty < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeQuantity, key, qty)
		}
	}
	amounts := []int64{s.Invoices.First, s.Invoices.Second, s.Invoices.Advance, s.Invoices.Balance, s.MiscCost}
	if s.SurveyCost != nil {
		amounts = append(amounts, *s.SurveyCost)
	}
	if s.InstallationCost != nil {
		amounts = append(amounts, *s.InstallationCost)
	}
	if s.AdminAdjustedCommission != nil {
		amounts = append(amounts, *s.AdminAdjustedCommission)
	}
	for _, amount := range amounts {
		if amount < 0 {
			return ErrNegativeAmount
		}
	}
	return nil
}

// Revenue returns the invoiced revenue for the site's progress category.
func (s Site) Revenue() int64 {
	if s.ProgressCategory == ProgressSubsidy {
		return s.Invoices.First + s.Invoices.Second
	}
	return s.Invoices.Advance + s.Invoices.Balance
}

// Installed reports whether the site has a confirmed install date.
func (s Site) Installed() bool {
	return s.InstalledAt != nil && !s.InstalledAt.IsZero()
}

// Repository manages site persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Site, error)
	// List returns the sites with the given ids; unknown ids are omitted.
	List(ctx context.Context, ids []string) ([]Site, error)
	Save(ctx context.Context, site *Site) error
}
