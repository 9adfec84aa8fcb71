package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/matsen/acefit/internal/logging"
	"github.com/matsen/acefit/internal/pipeline"
	"github.com/spf13/cobra"
)

func runFit(cmd *cobra.Command, flags *fitFlags) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rep, err := executeFit(ctx, cmd, flags)
	if err != nil {
		exitWithError(exitCodeFor(err), err, rep)
	}

	if humanOutput {
		printSummary(os.Stdout, rep)
		return
	}
	outputJSON(rep)
}

// executeFit validates the options and runs the pipeline. Validation happens
// before any dataset is opened.
func executeFit(ctx context.Context, cmd *cobra.Command, flags *fitFlags) (*pipeline.Report, error) {
	opts, err := flags.options(cmd)
	if err != nil {
		return nil, err
	}
	run, err := opts.Resolve()
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, uuid.NewString())
	return pipeline.NewRunner(logging.FromContext(ctx)).Run(ctx, run)
}
