package elements

import "testing"

func TestNearestNeighbor(t *testing.T) {
	tests := []struct {
		species string
		want    float64
		ok      bool
	}{
		{"Cu", 2.553, true},
		{"Si", 2.352, true},
		{"H", 0.741, true},
		{"Xx", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.species, func(t *testing.T) {
			got, ok := NearestNeighbor(tt.species)
			if ok != tt.ok || got != tt.want {
				t.Errorf("NearestNeighbor(%q) = %v, %v; want %v, %v", tt.species, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNearestNeighbor_AllPositive(t *testing.T) {
	for s, d := range nearestNeighbor {
		if d <= 0 {
			t.Errorf("distance for %s = %v, must be positive", s, d)
		}
	}
}
