package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/cutoff"
	"github.com/matsen/acefit/internal/export"
	"github.com/matsen/acefit/internal/lsq"
	"github.com/matsen/acefit/internal/refenergy"
	"github.com/matsen/acefit/internal/solver"
	"github.com/matsen/acefit/internal/weights"
)

// Run is a validated run configuration.
type Run struct {
	Datasets   []string
	OutBase    string
	Formats    []string
	Keys       atoms.Keys
	E0         refenergy.Table
	Cutoffs    cutoff.Overrides
	BodyOrder  int
	Degree     int
	PairDegree int
	Solvers    []solver.Config
	Weights    []weights.Scheme
	DB         lsq.Request
	Resume     bool
}

// Resolve validates every option and fills defaults. It touches no dataset.
func (o *Options) Resolve() (*Run, error) {
	formats, err := resolveFormats(o.Formats)
	if err != nil {
		return nil, err
	}
	keys, err := resolveKeys(o.Keys)
	if err != nil {
		return nil, err
	}
	solvers, err := resolveSolvers(o.Solvers)
	if err != nil {
		return nil, err
	}
	schemes, err := resolveWeights(o.Weights)
	if err != nil {
		return nil, err
	}
	e0, err := resolveE0(o.E0)
	if err != nil {
		return nil, err
	}

	if len(o.Datasets) == 0 {
		return nil, fmt.Errorf("%w: at least one dataset is required", ErrInvalidOption)
	}
	if o.OutBase == "" {
		return nil, fmt.Errorf("%w: output base path is required", ErrInvalidOption)
	}
	if o.LoadDB && o.DryRun {
		return nil, fmt.Errorf("%w: --load-db and --dry-run are mutually exclusive", ErrInvalidOption)
	}

	for name, v := range map[string]*float64{"r0": o.R0, "r_in": o.RIn, "r_cut": o.RCut, "pair_r_cut": o.PairRCut} {
		if v != nil && *v < 0 {
			return nil, fmt.Errorf("%w: %s %g must not be negative", ErrInvalidOption, name, *v)
		}
	}

	run := &Run{
		OutBase:    ExpandPath(o.OutBase),
		Formats:    formats,
		Keys:       keys,
		E0:         e0,
		Cutoffs:    cutoff.Overrides{R0: o.R0, RIn: o.RIn, RCut: o.RCut, PairRCut: o.PairRCut},
		BodyOrder:  o.BodyOrder,
		Degree:     o.Degree,
		PairDegree: DefaultPairDegree,
		Solvers:    solvers,
		Weights:    schemes,
		Resume:     o.Resume,
	}
	for _, d := range o.Datasets {
		run.Datasets = append(run.Datasets, ExpandPath(d))
	}
	if run.BodyOrder == 0 {
		run.BodyOrder = DefaultBodyOrder
	}
	if run.Degree == 0 {
		run.Degree = DefaultDegree
	}
	if o.PairDegree != nil {
		run.PairDegree = *o.PairDegree
	}
	if run.BodyOrder < 2 || run.Degree < 1 || run.PairDegree < 0 {
		return nil, fmt.Errorf("%w: body order %d, degree %d, pair degree %d (need >= 2, >= 1, >= 0)",
			ErrInvalidOption, run.BodyOrder, run.Degree, run.PairDegree)
	}

	threads := o.NumThreads
	if threads == 0 {
		threads = DefaultNumThreads()
	}
	if threads < 0 {
		return nil, fmt.Errorf("%w: num threads %d", ErrInvalidOption, threads)
	}

	dbPath := ExpandPath(o.DBPath)
	if dbPath == "" {
		dbPath = lsq.DefaultPath(run.OutBase)
	}
	run.DB = lsq.Request{
		Path:    dbPath,
		OutBase: run.OutBase,
		Load:    o.LoadDB,
		Save:    o.SaveDB,
		DryRun:  o.DryRun,
		Threads: threads,
	}
	return run, nil
}

func resolveFormats(given []string) ([]string, error) {
	if len(given) == 0 {
		return []string{DefaultFormat}, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range given {
		if !export.Supported(f) {
			return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownFormat, f, strings.Join(export.Formats(), ", "))
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func resolveKeys(given []string) (atoms.Keys, error) {
	keys := atoms.DefaultKeys()
	for _, tok := range given {
		kind, field, ok := strings.Cut(tok, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: key %q must be KIND=FIELD", ErrInvalidOption, tok)
		}
		switch k := atoms.Kind(strings.TrimSpace(kind)); k {
		case atoms.Energy, atoms.Forces, atoms.Virial:
			keys[k] = strings.TrimSpace(field)
		case atoms.Stress:
			return nil, fmt.Errorf("%w: stress (S) keys are not supported; supply virials with V", ErrUnsupportedKey)
		default:
			return nil, fmt.Errorf("%w: kind %q (valid: E, F, V)", ErrUnsupportedKey, kind)
		}
	}
	return keys, nil
}

func resolveSolvers(given []string) ([]solver.Config, error) {
	if len(given) == 0 {
		given = []string{solver.DefaultToken}
	}
	out := make([]solver.Config, 0, len(given))
	for _, tok := range given {
		c, err := solver.ParseToken(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func resolveWeights(given []string) ([]weights.Scheme, error) {
	if len(given) == 0 {
		given = []string{weights.DefaultJSON}
	}
	out := make([]weights.Scheme, 0, len(given))
	for i, text := range given {
		s, err := weights.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("weights %d: %w", i+1, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func resolveE0(given []string) (refenergy.Table, error) {
	table := make(refenergy.Table, len(given))
	for _, tok := range given {
		species, value, ok := strings.Cut(tok, "=")
		species = strings.TrimSpace(species)
		if !ok || species == "" {
			return nil, fmt.Errorf("%w: e0 %q must be SPECIES=ENERGY", ErrInvalidOption, tok)
		}
		e, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: e0 %q: %v", ErrInvalidOption, tok, err)
		}
		if _, dup := table[species]; dup {
			return nil, fmt.Errorf("%w: e0 given twice for %s", ErrInvalidOption, species)
		}
		table[species] = e
	}
	return table, nil
}
