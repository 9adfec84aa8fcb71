// Package export names fit artifacts and writes them in each output format.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/matsen/acefit/internal/cutoff"
	"github.com/matsen/acefit/internal/fit"
	"github.com/matsen/acefit/internal/potential"
	"gopkg.in/yaml.v3"
)

// ErrNoWriter is returned when an output format reaches dispatch without a
// registered writer.
var ErrNoWriter = errors.New("no writer for output format")

// Writer encodes a fitted potential and its fit info.
type Writer func(w io.Writer, pot *potential.Potential, info *fit.Info) error

var writers = map[string]Writer{
	".json": writeJSON,
	".yace": writeYACE,
}

// Formats returns the recognized output suffixes in sorted order.
func Formats() []string {
	out := make([]string, 0, len(writers))
	for k := range writers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether suffix names a recognized output format.
func Supported(suffix string) bool {
	_, ok := writers[suffix]
	return ok
}

// BaseName returns the output base of sweep point (wi, si), 0-based. A
// weights index suffix appears only when nWeights > 1 and a solver index
// suffix only when nSolvers > 1; both are printed 1-based.
func BaseName(outBase string, wi, nWeights, si, nSolvers int) string {
	var sb strings.Builder
	sb.WriteString(outBase)
	if nWeights > 1 {
		fmt.Fprintf(&sb, "_weights_i_%d", wi+1)
	}
	if nSolvers > 1 {
		fmt.Fprintf(&sb, "_solver_i_%d", si+1)
	}
	return sb.String()
}

// Paths returns the output file of base for every format in order.
func Paths(base string, formats []string) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = base + f
	}
	return out
}

// Write writes pot to base+format for each format and returns the paths.
func Write(base string, formats []string, pot *potential.Potential, info *fit.Info) ([]string, error) {
	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		writer, ok := writers[format]
		if !ok {
			return paths, fmt.Errorf("%w: %q", ErrNoWriter, format)
		}
		path := base + format
		if err := writeFile(path, writer, pot, info); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, writer Writer, pot *potential.Potential, info *fit.Info) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := writer(f, pot, info); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

type jsonDoc struct {
	Potential *potential.Potential `json:"potential"`
	FitInfo   *fit.Info            `json:"fit_info"`
}

func writeJSON(w io.Writer, pot *potential.Potential, info *fit.Info) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonDoc{Potential: pot, FitInfo: info})
}

type yaceDoc struct {
	Elements   []string           `yaml:"elements"`
	E0         map[string]float64 `yaml:"E0"`
	BodyOrder  int                `yaml:"body_order"`
	Degree     int                `yaml:"degree"`
	PairDegree int                `yaml:"pair_degree"`
	Cutoffs    cutoff.Params      `yaml:"cutoffs"`
	Functions  []yaceFunction     `yaml:"functions"`
	Solver     string             `yaml:"solver,omitempty"`
	DatabaseID string             `yaml:"database_id,omitempty"`
	RunID      string             `yaml:"run_id,omitempty"`
}

type yaceFunction struct {
	Label       string  `yaml:"label"`
	Coefficient float64 `yaml:"coefficient"`
}

func writeYACE(w io.Writer, pot *potential.Potential, info *fit.Info) error {
	spec := pot.Basis
	doc := yaceDoc{
		Elements:   spec.Species,
		E0:         pot.E0,
		BodyOrder:  spec.BodyOrder,
		Degree:     spec.Degree,
		PairDegree: spec.PairDegree,
		Cutoffs:    spec.Cutoffs,
		Functions:  make([]yaceFunction, len(pot.Coefficients)),
	}
	for i, c := range pot.Coefficients {
		doc.Functions[i] = yaceFunction{Label: pot.Labels[i], Coefficient: c}
	}
	if info != nil {
		doc.Solver = info.Solver.String()
		doc.DatabaseID = info.DatabaseID
		doc.RunID = info.RunID
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
