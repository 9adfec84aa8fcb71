package cutoff

import (
	"errors"
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func table(m map[string]float64) DistanceFunc {
	return func(s string) (float64, bool) {
		d, ok := m[s]
		return d, ok
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestDerive_AllDefaults(t *testing.T) {
	dist := table(map[string]float64{"A": 2.0, "B": 3.0})

	p, diags, err := Derive(Overrides{}, []string{"A", "B"}, dist)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if !near(p.R0, 2.5) {
		t.Errorf("R0 = %v, want 2.5", p.R0)
	}
	if !near(p.RIn, 0.8*2.5) || !near(p.RCut, 2.0*2.5) || !near(p.PairRCut, 3.0*2.5) {
		t.Errorf("cutoffs = %+v, want 0.8/2.0/3.0 * r0", p)
	}
	if len(diags) != 4 {
		t.Errorf("expected 4 defaulting diagnostics, got %d: %v", len(diags), diags)
	}
}

func TestDerive_Explicit(t *testing.T) {
	o := Overrides{R0: ptr(2.0), RIn: ptr(1.0), RCut: ptr(5.0), PairRCut: ptr(6.0)}

	p, diags, err := Derive(o, []string{"Unknown"}, table(nil))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	want := Params{R0: 2.0, RIn: 1.0, RCut: 5.0, PairRCut: 6.0}
	if p != want {
		t.Errorf("Derive() = %+v, want %+v", p, want)
	}
	if len(diags) != 0 {
		t.Errorf("no defaults expected, got %v", diags)
	}
}

func TestDerive_PartialCutoffs(t *testing.T) {
	o := Overrides{R0: ptr(2.5), RCut: ptr(4.5)}

	p, diags, err := Derive(o, nil, table(nil))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if p.RCut != 4.5 || !near(p.RIn, 2.0) || !near(p.PairRCut, 7.5) {
		t.Errorf("Derive() = %+v", p)
	}
	if len(diags) != 2 {
		t.Errorf("expected 2 diagnostics, got %v", diags)
	}
}

func TestDerive_UnresolvableR0(t *testing.T) {
	tests := []struct {
		name    string
		species []string
		dists   map[string]float64
	}{
		{"unknown species", []string{"A", "Q"}, map[string]float64{"A": 2.0}},
		{"zero distance", []string{"A", "B"}, map[string]float64{"A": 2.0, "B": 0}},
		{"negative distance", []string{"A"}, map[string]float64{"A": -1}},
		{"no species", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Derive(Overrides{}, tt.species, table(tt.dists))
			if !errors.Is(err, ErrUnresolvableR0) {
				t.Errorf("Derive() error = %v, want ErrUnresolvableR0", err)
			}
		})
	}
}

func TestDerive_Invalid(t *testing.T) {
	tests := []struct {
		name string
		o    Overrides
	}{
		{"non-positive r0", Overrides{R0: ptr(0)}},
		{"inner beyond outer", Overrides{R0: ptr(2), RIn: ptr(5), RCut: ptr(4)}},
		{"negative pair", Overrides{R0: ptr(2), PairRCut: ptr(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Derive(tt.o, nil, table(nil))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Derive() error = %v, want ErrInvalid", err)
			}
		})
	}
}
