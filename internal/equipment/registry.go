package equipment

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultRegistry []byte

var (
	// ErrEmptyRegistry is returned when a registry file lists no types.
	ErrEmptyRegistry = errors.New("equipment: registry has no types")
	// ErrDuplicateKey is returned when a key is declared twice.
	ErrDuplicateKey = errors.New("equipment: duplicate key")
	// ErrInvalidDescriptor is returned for a descriptor without key or with a negative cost.
	ErrInvalidDescriptor = errors.New("equipment: invalid descriptor")
)

// Descriptor describes one equipment-quantity field on a site.
type Descriptor struct {
	Key                     string `yaml:"key" json:"key"`
	Label                   string `yaml:"label" json:"label"`
	Unit                    string `yaml:"unit" json:"unit"`
	DefaultInstallationCost int64  `yaml:"default_installation_cost" json:"default_installation_cost"`
}

type file struct {
	Types []Descriptor `yaml:"types"`
}

// Registry is the ordered list of equipment types known to the system.
type Registry struct {
	types []Descriptor
	index map[string]int
}

// Default returns the built-in registry.
func Default() *Registry {
	reg, err := Parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("equipment: embedded registry: %v", err))
	}
	return reg
}

// Load reads a registry file. An empty path returns the built-in registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("equipment: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("equipment: parse: %w", err)
	}
	return New(f.Types)
}

// New builds a registry from descriptors, keeping their order.
func New(types []Descriptor) (*Registry, error) {
	if len(types) == 0 {
		return nil, ErrEmptyRegistry
	}
	reg := &Registry{
		types: make([]Descriptor, 0, len(types)),
		index: make(map[string]int, len(types)),
	}
	for _, d := range types {
		d.Key = strings.TrimSpace(d.Key)
		if d.Key == "" || d.DefaultInstallationCost < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDescriptor, d.Key)
		}
		if _, ok := reg.index[d.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, d.Key)
		}
		if d.Label == "" {
			d.Label = d.Key
		}
		reg.index[d.Key] = len(reg.types)
		reg.types = append(reg.types, d)
	}
	return reg, nil
}

// Types returns the descriptors in registry order.
func (r *Registry) Types() []Descriptor {
	out := make([]Descriptor, len(r.types))
	copy(out, r.types)
	return out
}

// Keys returns the keys in registry order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.types))
	for i, d := range r.types {
		keys[i] = d.Key
	}
	return keys
}

// Lookup returns the descriptor for key.
func (r *Registry) Lookup(key string) (Descriptor, bool) {
	i, ok := r.index[key]
	if !ok {
		return Descriptor{}, false
	}
	return r.types[i], true
}

// Len returns the number of types.
func (r *Registry) Len() int {
	return len(r.types)
}
