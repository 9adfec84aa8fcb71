package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matsen/acefit/internal/diag"
	"github.com/matsen/acefit/internal/fit"
	"github.com/matsen/acefit/internal/pipeline"
)

// ErrorResponse is the JSON body printed when a run fails.
type ErrorResponse struct {
	Error       string    `json:"error"`
	Diagnostics diag.List `json:"diagnostics,omitempty"`
}

// outputJSON writes a value as indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and
// exits. Diagnostics gathered before the failure are included when rep is set.
func exitWithError(code int, err error, rep *pipeline.Report) {
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
	} else {
		resp := ErrorResponse{Error: err.Error()}
		if rep != nil {
			resp.Diagnostics = rep.Diagnostics
		}
		outputJSON(resp)
	}
	os.Exit(code)
}

// printSummary writes a human-readable run summary.
func printSummary(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintf(w, "Configurations: %d\n", rep.Configs)
	fmt.Fprintf(w, "Species:        %s\n", strings.Join(rep.Species, " "))
	for _, s := range rep.E0.Species() {
		fmt.Fprintf(w, "E0[%s]:%s%g\n", s, strings.Repeat(" ", max(1, 11-len(s))), rep.E0[s])
	}
	if c := rep.Cutoffs; c != nil {
		fmt.Fprintf(w, "Cutoffs:        r0=%.4g r_in=%.4g r_cut=%.4g pair_r_cut=%.4g\n", c.R0, c.RIn, c.RCut, c.PairRCut)
	}
	fmt.Fprintf(w, "Basis length:   %d\n", rep.BasisLen)

	if rep.Size != nil {
		fmt.Fprintf(w, "\nDry run: %d rows x %d basis functions (written to %s)\n",
			rep.Size.Rows, rep.Size.BasisLen, rep.Size.Path)
	}
	if db := rep.Database; db != nil {
		fmt.Fprintf(w, "Database:       %s %s (%d rows, id %s)\n", db.Mode, db.Path, db.Rows, db.ID)
	}

	for _, a := range rep.Artifacts {
		fmt.Fprintf(w, "\n[weights %d, solver %d] %s\n", a.WeightsIndex, a.SolverIndex, a.Solver)
		if a.Skipped {
			fmt.Fprintf(w, "  skipped, outputs exist: %s\n", strings.Join(a.Paths, ", "))
			continue
		}
		fmt.Fprintf(w, "  residual norm: %.6g\n", a.Residual)
		for _, p := range a.Paths {
			fmt.Fprintf(w, "  wrote %s\n", p)
		}
		for _, line := range strings.Split(strings.TrimRight(fit.FormatTable(a.Errors), "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	if warnings := rep.Diagnostics.Warnings(); len(warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, r := range warnings {
			fmt.Fprintf(w, "  [%s] %s\n", r.Stage, r.Message)
		}
	}
	fmt.Fprintf(w, "\nCompleted in %dms\n", rep.DurationMs)
}
