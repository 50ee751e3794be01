package sites

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"installops/internal/equipment"
)

// Item is one equipment type present on a site.
type Item struct {
	Descriptor equipment.Descriptor
	Quantity   int64
}

// Reading is the equipment and pricing identifiers extracted from a site.
type Reading struct {
	SiteID       string
	Manufacturer string
	SalesOffice  string
	Items        []Item
	// Unknown lists quantity keys absent from the registry. They are not priced.
	Unknown []string
}

// EquipmentReader extracts equipment quantities in registry order.
type EquipmentReader struct {
	registry *equipment.Registry
}

// NewEquipmentReader constructs a reader over registry.
func NewEquipmentReader(registry *equipment.Registry) (*EquipmentReader, error) {
	if registry == nil {
		return nil, errors.New("equipment reader: nil registry")
	}
	return &EquipmentReader{registry: registry}, nil
}

// Read returns the non-zero equipment items of site. Negative quantities are
// rejected, zero quantities are skipped.
func (r *EquipmentReader) Read(site Site) (Reading, error) {
	if site.ID == "" {
		return Reading{}, ErrEmptySiteID
	}
	reading := Reading{
		SiteID:       site.ID,
		Manufacturer: strings.TrimSpace(site.Manufacturer),
		SalesOffice:  strings.TrimSpace(site.SalesOffice),
	}
	for key, qty := range site.Quantities {
		if qty < 0 {
			return Reading{}, fmt.Errorf("%w: %s=%d", ErrNegativeQuantity, key, qty)
		}
		if _, ok := r.registry.Lookup(key); !ok && qty > 0 {
			reading.Unknown = append(reading.Unknown, key)
		}
	}
	sort.Strings(reading.Unknown)
	for _, d := range r.registry.Types() {
		qty := site.Quantities[d.Key]
		if qty == 0 {
			continue
		}
		reading.Items = append(reading.Items, Item{Descriptor: d, Quantity: qty})
	}
	return reading, nil
}

// Registry returns the registry the reader uses.
func (r *EquipmentReader) Registry() *equipment.Registry {
	return r.registry
}
