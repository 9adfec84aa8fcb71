// Package elements provides per-species reference geometry.
package elements

// nearestNeighbor holds the nearest-neighbor distance (Å) in the ground-state
// structure of each element. Diatomic gases use the bond length of the molecule.
var nearestNeighbor = map[string]float64{
	"H":  0.741,
	"He": 2.969,
	"Li": 3.039,
	"Be": 2.226,
	"B":  1.706,
	"C":  1.545,
	"N":  1.098,
	"O":  1.208,
	"F":  1.412,
	"Ne": 3.156,
	"Na": 3.716,
	"Mg": 3.209,
	"Al": 2.864,
	"Si": 2.352,
	"P":  2.224,
	"S":  2.048,
	"Cl": 1.988,
	"Ar": 3.756,
	"K":  4.608,
	"Ca": 3.951,
	"Sc": 3.309,
	"Ti": 2.951,
	"V":  2.622,
	"Cr": 2.498,
	"Mn": 2.731,
	"Fe": 2.482,
	"Co": 2.507,
	"Ni": 2.492,
	"Cu": 2.553,
	"Zn": 2.665,
	"Ga": 2.442,
	"Ge": 2.450,
	"As": 2.517,
	"Se": 2.321,
	"Br": 2.281,
	"Kr": 4.036,
	"Rb": 4.883,
	"Sr": 4.302,
	"Y":  3.564,
	"Zr": 3.179,
	"Nb": 2.858,
	"Mo": 2.725,
	"Tc": 2.703,
	"Ru": 2.650,
	"Rh": 2.690,
	"Pd": 2.751,
	"Ag": 2.889,
	"Cd": 2.979,
	"In": 3.251,
	"Sn": 2.810,
	"Sb": 2.908,
	"Te": 2.835,
	"I":  2.666,
	"Xe": 4.367,
	"Cs": 5.240,
	"Ba": 4.347,
	"La": 3.739,
	"Hf": 3.127,
	"Ta": 2.860,
	"W":  2.741,
	"Re": 2.741,
	"Os": 2.675,
	"Ir": 2.715,
	"Pt": 2.775,
	"Au": 2.884,
	"Hg": 3.005,
	"Tl": 3.408,
	"Pb": 3.500,
	"Bi": 3.071,
}

// NearestNeighbor returns the characteristic nearest-neighbor distance of a
// species and whether one is known.
func NearestNeighbor(species string) (float64, bool) {
	d, ok := nearestNeighbor[species]
	return d, ok
}
