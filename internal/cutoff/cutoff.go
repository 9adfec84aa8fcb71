// Package cutoff derives the geometric scale parameters that size the basis.
package cutoff

import (
	"errors"
	"fmt"

	"github.com/matsen/acefit/internal/diag"
	"gonum.org/v1/gonum/stat"
)

// Stage is the diagnostics stage name.
const Stage = "cutoff"

// Multipliers applied to r0 for cutoffs that are not given explicitly.
const (
	InnerFactor    = 0.8
	ManyBodyFactor = 2.0
	PairFactor     = 3.0
)

// Derivation errors.
var (
	ErrUnresolvableR0 = errors.New("cannot derive r0")
	ErrInvalid        = errors.New("invalid cutoff parameters")
)

// Params are the four geometric scales of the basis.
type Params struct {
	R0       float64 `json:"r0" yaml:"r0"`
	RIn      float64 `json:"r_in" yaml:"r_in"`
	RCut     float64 `json:"r_cut" yaml:"r_cut"`
	PairRCut float64 `json:"pair_r_cut" yaml:"pair_r_cut"`
}

// Overrides holds explicitly supplied values; nil means derive.
type Overrides struct {
	R0       *float64
	RIn      *float64
	RCut     *float64
	PairRCut *float64
}

// DistanceFunc returns a species' characteristic distance and whether it is known.
type DistanceFunc func(species string) (float64, bool)

// Derive fills in every parameter not given in o. r0 defaults to the mean
// characteristic distance over species; each cutoff defaults to its factor
// times r0.
func Derive(o Overrides, species []string, dist DistanceFunc) (Params, diag.List, error) {
	var diags diag.List
	var p Params

	if o.R0 != nil {
		p.R0 = *o.R0
	} else {
		r0, err := meanDistance(species, dist)
		if err != nil {
			return Params{}, nil, err
		}
		p.R0 = r0
		diags.Warnf(Stage, "r0 not given, using mean nearest-neighbor distance %.4f over %v", r0, species)
	}
	if p.R0 <= 0 {
		return Params{}, nil, fmt.Errorf("%w: r0 = %g must be positive", ErrInvalid, p.R0)
	}

	p.RIn = pick(o.RIn, InnerFactor, p.R0, "r_in", &diags)
	p.RCut = pick(o.RCut, ManyBodyFactor, p.R0, "r_cut", &diags)
	p.PairRCut = pick(o.PairRCut, PairFactor, p.R0, "pair_r_cut", &diags)

	if p.RIn < 0 {
		return Params{}, nil, fmt.Errorf("%w: r_in = %g is negative", ErrInvalid, p.RIn)
	}
	if p.RCut <= p.RIn {
		return Params{}, nil, fmt.Errorf("%w: r_cut = %g must exceed r_in = %g", ErrInvalid, p.RCut, p.RIn)
	}
	if p.PairRCut <= 0 {
		return Params{}, nil, fmt.Errorf("%w: pair_r_cut = %g must be positive", ErrInvalid, p.PairRCut)
	}

	return p, diags, nil
}

func pick(v *float64, factor, r0 float64, name string, diags *diag.List) float64 {
	if v != nil {
		return *v
	}
	val := factor * r0
	diags.Warnf(Stage, "%s not given, using %g * r0 = %.4f", name, factor, val)
	return val
}

// meanDistance averages dist over species. Any species without a positive
// distance aborts the derivation.
func meanDistance(species []string, dist DistanceFunc) (float64, error) {
	if len(species) == 0 {
		return 0, fmt.Errorf("%w: no species", ErrUnresolvableR0)
	}
	ds := make([]float64, len(species))
	for i, s := range species {
		d, ok := dist(s)
		if !ok {
			return 0, fmt.Errorf("%w: no characteristic distance for %s (pass --r0)", ErrUnresolvableR0, s)
		}
		if d <= 0 {
			return 0, fmt.Errorf("%w: characteristic distance for %s is %g (pass --r0)", ErrUnresolvableR0, s, d)
		}
		ds[i] = d
	}
	return stat.Mean(ds, nil), nil
}
