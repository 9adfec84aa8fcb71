// Package weights parses and applies observation weight schemes.
package weights

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/matsen/acefit/internal/atoms"
)

// DefaultKey is the config-type wildcard.
const DefaultKey = "default"

// DefaultJSON is used when no scheme is supplied.
const DefaultJSON = `{"default": {"E": 30.0, "F": 1.0, "V": 1.0}}`

// ErrInvalidScheme is returned for weight schemes that cannot be used.
var ErrInvalidScheme = errors.New("invalid weight scheme")

// Scheme maps config type to observation kind to weight.
type Scheme map[string]map[atoms.Kind]float64

// Parse decodes a JSON weight scheme.
func Parse(text string) (Scheme, error) {
	var raw map[string]map[string]float64
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScheme, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty scheme", ErrInvalidScheme)
	}

	s := make(Scheme, len(raw))
	for configType, kinds := range raw {
		m := make(map[atoms.Kind]float64, len(kinds))
		for k, w := range kinds {
			kind := atoms.Kind(k)
			switch kind {
			case atoms.Energy, atoms.Forces, atoms.Virial:
			default:
				return nil, fmt.Errorf("%w: unknown observation kind %q for %s (valid: E, F, V)", ErrInvalidScheme, k, configType)
			}
			if w < 0 {
				return nil, fmt.Errorf("%w: negative weight %g for %s/%s", ErrInvalidScheme, w, configType, k)
			}
			m[kind] = w
		}
		s[configType] = m
	}
	return s, nil
}

// Default returns the built-in scheme.
func Default() Scheme {
	s, err := Parse(DefaultJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// Weight returns the weight of an observation kind for a config type: the
// config type's own entry, then the default entry, then zero.
func (s Scheme) Weight(configType string, kind atoms.Kind) float64 {
	if m, ok := s[configType]; ok {
		if w, ok := m[kind]; ok {
			return w
		}
	}
	if m, ok := s[DefaultKey]; ok {
		if w, ok := m[kind]; ok {
			return w
		}
	}
	return 0
}

// RowWeight returns the weight applied to each design-matrix row of an
// observation. Energies are normalized per atom.
func (s Scheme) RowWeight(c *atoms.Configuration, kind atoms.Kind) float64 {
	w := s.Weight(c.ConfigType, kind)
	if kind == atoms.Energy && c.NumAtoms() > 0 {
		w /= float64(c.NumAtoms())
	}
	return w
}

// ConfigTypes returns the scheme's keys in sorted order.
func (s Scheme) ConfigTypes() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the scheme with sorted keys.
func (s Scheme) MarshalJSON() ([]byte, error) {
	raw := make(map[string]map[string]float64, len(s))
	for configType, kinds := range s {
		m := make(map[string]float64, len(kinds))
		for k, w := range kinds {
			m[string(k)] = w
		}
		raw[configType] = m
	}
	return json.Marshal(raw)
}
