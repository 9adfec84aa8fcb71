package weights

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matsen/acefit/internal/atoms"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestParse(t *testing.T) {
	s, err := Parse(`{"default": {"E": 30, "F": 1, "V": 1}, "isolated_atom": {"E": 1000}}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		configType string
		kind       atoms.Kind
		want       float64
	}{
		{"isolated_atom", atoms.Energy, 1000},
		{"isolated_atom", atoms.Forces, 1},
		{"bulk", atoms.Energy, 30},
		{"bulk", atoms.Virial, 1},
		{"default", atoms.Forces, 1},
	}
	for _, tt := range tests {
		if got := s.Weight(tt.configType, tt.kind); got != tt.want {
			t.Errorf("Weight(%q, %s) = %v, want %v", tt.configType, tt.kind, got, tt.want)
		}
	}
}

func TestWeight_NoDefault(t *testing.T) {
	s, err := Parse(`{"bulk": {"E": 5}}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := s.Weight("surface", atoms.Energy); got != 0 {
		t.Errorf("Weight() = %v, want 0 without default entry", got)
	}
	if got := s.Weight("bulk", atoms.Forces); got != 0 {
		t.Errorf("Weight() = %v, want 0 for missing kind", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", `{default`},
		{"empty", `{}`},
		{"stress", `{"default": {"S": 1}}`},
		{"unknown kind", `{"default": {"Q": 1}}`},
		{"negative", `{"default": {"E": -1}}`},
		{"wrong shape", `{"default": 3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if !errors.Is(err, ErrInvalidScheme) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidScheme", tt.text, err)
			}
		})
	}
}

func TestRowWeight_EnergyPerAtom(t *testing.T) {
	s := Default()
	c := &atoms.Configuration{
		Species:    []string{"Cu", "Cu", "Cu"},
		Positions:  make([]r3.Vec, 3),
		ConfigType: "bulk",
	}
	if got := s.RowWeight(c, atoms.Energy); got != 10 {
		t.Errorf("RowWeight(E) = %v, want 30/3", got)
	}
	if got := s.RowWeight(c, atoms.Forces); got != 1 {
		t.Errorf("RowWeight(F) = %v, want 1", got)
	}
}

func TestMarshalJSON(t *testing.T) {
	s := Default()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	back, err := Parse(string(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if back.Weight("x", atoms.Energy) != 30 {
		t.Errorf("re-parsed scheme lost weights: %s", data)
	}
}
