// Package sweep runs one fit per (weight scheme, solver) pair and exports
// each result.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/matsen/acefit/internal/diag"
	"github.com/matsen/acefit/internal/export"
	"github.com/matsen/acefit/internal/fit"
	"github.com/matsen/acefit/internal/potential"
	"github.com/matsen/acefit/internal/solver"
	"github.com/matsen/acefit/internal/weights"
)

// Stage is the diagnostics stage name.
const Stage = "sweep"

// ErrEmptyPlan is returned when a plan has no weight schemes, solvers or
// output formats.
var ErrEmptyPlan = errors.New("empty sweep plan")

// Fitter fits one sweep point.
type Fitter interface {
	Fit(ctx context.Context, w weights.Scheme, s solver.Config) (*fit.Result, error)
}

// Evaluator computes the errors table of a freshly fitted potential.
type Evaluator interface {
	Errors(pot *potential.Potential) fit.ErrorTable
}

// EvaluatorFunc is a function adapter for Evaluator.
type EvaluatorFunc func(pot *potential.Potential) fit.ErrorTable

// Errors implements Evaluator.
func (f EvaluatorFunc) Errors(pot *potential.Potential) fit.ErrorTable {
	return f(pot)
}

// Exporter writes one artifact in every requested format.
type Exporter interface {
	Export(base string, formats []string, pot *potential.Potential, info *fit.Info) ([]string, error)
}

// ExportFunc is a function adapter for Exporter.
type ExportFunc func(base string, formats []string, pot *potential.Potential, info *fit.Info) ([]string, error)

// Export implements Exporter.
func (f ExportFunc) Export(base string, formats []string, pot *potential.Potential, info *fit.Info) ([]string, error) {
	return f(base, formats, pot, info)
}

// Plan describes one sweep.
type Plan struct {
	OutBase string
	Formats []string
	Weights []weights.Scheme
	Solvers []solver.Config
	// Resume skips points whose every output file already exists.
	Resume bool
}

// Size returns the number of sweep points.
func (p Plan) Size() int {
	return len(p.Weights) * len(p.Solvers)
}

// Artifact describes one sweep point's outputs. Indices are 1-based.
type Artifact struct {
	WeightsIndex int            `json:"weights_index"`
	SolverIndex  int            `json:"solver_index"`
	Solver       string         `json:"solver"`
	Base         string         `json:"base"`
	Paths        []string       `json:"paths"`
	Skipped      bool           `json:"skipped,omitempty"`
	RunID        string         `json:"run_id,omitempty"`
	Residual     float64        `json:"residual_norm,omitempty"`
	Errors       fit.ErrorTable `json:"errors,omitempty"`
}

// Orchestrator runs a plan against one fitter.
type Orchestrator struct {
	fitter   Fitter
	eval     Evaluator
	exporter Exporter
	logger   *slog.Logger
}

// New creates an orchestrator. A nil logger uses slog.Default.
func New(f Fitter, e Evaluator, x Exporter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{fitter: f, eval: e, exporter: x, logger: logger}
}

// Run fits and exports every point, weights in the outer loop and solvers in
// the inner loop. The first error aborts the remaining points.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) ([]Artifact, diag.List, error) {
	var diags diag.List
	if plan.Size() == 0 || len(plan.Formats) == 0 {
		return nil, diags, fmt.Errorf("%w: %d weight schemes, %d solvers, %d formats",
			ErrEmptyPlan, len(plan.Weights), len(plan.Solvers), len(plan.Formats))
	}

	nw, ns := len(plan.Weights), len(plan.Solvers)
	artifacts := make([]Artifact, 0, plan.Size())
	for wi, w := range plan.Weights {
		for si, s := range plan.Solvers {
			if err := ctx.Err(); err != nil {
				return artifacts, diags, err
			}

			base := export.BaseName(plan.OutBase, wi, nw, si, ns)
			art := Artifact{
				WeightsIndex: wi + 1,
				SolverIndex:  si + 1,
				Solver:       s.String(),
				Base:         base,
			}
			log := o.logger.With("weights", wi+1, "solver", s.String())

			if plan.Resume && allExist(export.Paths(base, plan.Formats)) {
				art.Skipped = true
				art.Paths = export.Paths(base, plan.Formats)
				diags.Infof(Stage, "skipping %s: outputs exist", base)
				log.Info("skipping sweep point", "base", base)
				artifacts = append(artifacts, art)
				continue
			}

			log.Info("fitting")
			res, err := o.fitter.Fit(ctx, w, s)
			if err != nil {
				return artifacts, diags, fmt.Errorf("weights %d, solver %s: %w", wi+1, s, err)
			}
			res.Info.Errors = o.eval.Errors(res.Potential)
			for _, warn := range res.Info.Warnings {
				diags.Warnf(Stage, "%s: %s", base, warn)
			}

			paths, err := o.exporter.Export(base, plan.Formats, res.Potential, &res.Info)
			if err != nil {
				return artifacts, diags, fmt.Errorf("exporting %s: %w", base, err)
			}
			art.Paths = paths
			art.RunID = res.Info.RunID
			art.Residual = res.Info.Residual
			art.Errors = res.Info.Errors
			log.Info("wrote fit", "paths", paths, "residual", res.Info.Residual)
			artifacts = append(artifacts, art)
		}
	}
	return artifacts, diags, nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
