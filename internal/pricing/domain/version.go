package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which table a version belongs to.
type Kind string

const (
	// KindEquipmentCost is the unit cost of an equipment type for a manufacturer.
	KindEquipmentCost Kind = "equipment_cost"
	// KindCommissionRate is the commission percentage of a sales office for a manufacturer.
	KindCommissionRate Kind = "commission_rate"
	// KindInstallationCost is the per-unit installation cost of an equipment type.
	KindInstallationCost Kind = "installation_cost"
)

// IsValid reports whether the kind is supported.
func (k Kind) IsValid() bool {
	switch k {
	case KindEquipmentCost, KindCommissionRate, KindInstallationCost:
		return true
	default:
		return false
	}
}

// Status is the write-phase of a version row.
type Status string

const (
	// StatusPending rows are invisible to resolution until flipped to active.
	StatusPending Status = "pending"
	// StatusActive rows take part in resolution.
	StatusActive Status = "active"
)

// Key addresses one time-versioned value. Primary is the equipment type
// (equipment/installation cost) or the sales office (commission rate).
type Key struct {
	Kind         Kind   `json:"kind"`
	Primary      string `json:"primary_key"`
	Manufacturer string `json:"manufacturer"`
}

// Validate checks key invariants.
func (k Key) Validate() error {
	if !k.Kind.IsValid() {
		return ErrInvalidKind
	}
	if k.Primary == "" || k.Manufacturer == "" {
		return ErrEmptyKey
	}
	return nil
}

// Normalized returns the key with the manufacturer normalized.
func (k Key) Normalized() Key {
	k.Manufacturer = NormalizeManufacturer(k.Manufacturer)
	return k
}

// String renders the key for logs and lock names.
func (k Key) String() string {
	return string(k.Kind) + "|" + k.Primary + "|" + k.Manufacturer
}

// Version is one validity interval of a keyed value. EffectiveTo is inclusive;
// nil means open-ended.
type Version struct {
	ID            string          `json:"id"`
	Key           Key             `json:"key"`
	Value         decimal.Decimal `json:"value"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	Status        Status          `json:"status"`
	Active        bool            `json:"active"`
	Deleted       bool            `json:"deleted"`
	Note          string          `json:"note,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedBy     string          `json:"updated_by,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks version invariants.
func (v Version) Validate() error {
	if err := v.Key.Validate(); err != nil {
		return err
	}
	if v.EffectiveFrom.IsZero() {
		return ErrInvalidDate
	}
	if v.Value.IsNegative() {
		return ErrNegativeValue
	}
	if v.EffectiveTo != nil && v.EffectiveTo.Before(v.EffectiveFrom) {
		return ErrInvalidInterval
	}
	return nil
}

// Usable reports whether the version takes part in resolution.
func (v Version) Usable() bool {
	return v.Active && !v.Deleted && v.Status == StatusActive
}

// IsOpen reports whether the version has no end date.
func (v Version) IsOpen() bool {
	return v.EffectiveTo == nil
}

// Covers reports whether day falls inside [EffectiveFrom, EffectiveTo].
func (v Version) Covers(day time.Time) bool {
	day = Day(day)
	if day.Before(Day(v.EffectiveFrom)) {
		return false
	}
	if v.EffectiveTo != nil && day.After(Day(*v.EffectiveTo)) {
		return false
	}
	return true
}

// Overlaps reports whether two intervals share at least one day.
func (v Version) Overlaps(other Version) bool {
	if v.EffectiveTo != nil && Day(*v.EffectiveTo).Before(Day(other.EffectiveFrom)) {
		return false
	}
	if other.EffectiveTo != nil && Day(*other.EffectiveTo).Before(Day(v.EffectiveFrom)) {
		return false
	}
	return true
}
