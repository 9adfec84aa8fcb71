// Package main provides the acefit CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/matsen/acefit/internal/config"
	"github.com/matsen/acefit/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

var (
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return buildRootCmd(&fitFlags{})
}

func buildRootCmd(flags *fitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acefit [flags] --fitting-set FILE... --outfile-base PATH",
		Short: "Fit linear interatomic potentials over a parameter sweep",
		Long: `acefit fits linear atomic cluster expansion potentials to energies,
forces and virials of reference configurations.

A run loads the datasets, resolves isolated-atom reference energies, derives
cutoffs, assembles the basis, builds (or loads) the least-squares database,
then fits once per (weights, solver) pair and writes each potential.

Pair-valued options use KIND=VALUE tokens:
  --solver rrqr=[1e-12]   --key E=dft_energy   --e0 Cu=-3.5

Output is JSON on stdout by default; logs go to stderr.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return logging.Setup(os.Stderr, logLevel, logFormat)
		},
		Run: func(cmd *cobra.Command, args []string) {
			runFit(cmd, flags)
		},
	}

	cmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")
	flags.register(cmd)
	cmd.Version = Version
	return cmd
}

// fitFlags holds the raw flag values of one invocation.
type fitFlags struct {
	configFile string

	datasets   []string
	outBase    string
	formats    []string
	dbPath     string
	loadDB     bool
	saveDB     bool
	dryRun     bool
	resume     bool
	r0         float64
	rIn        float64
	rCut       float64
	pairRCut   float64
	bodyOrder  int
	degree     int
	pairDegree int
	solvers    []string
	keys       []string
	weights    []string
	e0         []string
	numThreads int
}

func (f *fitFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "YAML run file; explicitly set flags override its values")

	fs.StringArrayVar(&f.datasets, "fitting-set", nil, "Dataset file (JSONL, can be repeated)")
	fs.StringVarP(&f.outBase, "outfile-base", "o", "", "Base path for output files")
	fs.StringArrayVar(&f.formats, "format", nil, "Output format suffix (can be repeated; default .json)")
	fs.StringVar(&f.dbPath, "db", "", "LSQ database path (default <outfile-base>_LSQ)")
	fs.BoolVar(&f.loadDB, "load-db", false, "Load the LSQ database instead of building it")
	fs.BoolVar(&f.saveDB, "save-db", false, "Save the LSQ database after building it")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Write the design-matrix size and stop")
	fs.BoolVar(&f.resume, "resume", false, "Skip sweep points whose outputs already exist")

	fs.Float64Var(&f.r0, "r0", 0, "Characteristic length (default: mean nearest-neighbor distance)")
	fs.Float64Var(&f.rIn, "r-in", 0, "Inner cutoff (default 0.8*r0)")
	fs.Float64Var(&f.rCut, "r-cut", 0, "Many-body cutoff (default 2*r0)")
	fs.Float64Var(&f.pairRCut, "pair-r-cut", 0, "Pair cutoff (default 3*r0)")
	fs.IntVar(&f.bodyOrder, "body-order", config.DefaultBodyOrder, "Body order of the many-body basis")
	fs.IntVar(&f.degree, "degree", config.DefaultDegree, "Total polynomial degree of the many-body basis")
	fs.IntVar(&f.pairDegree, "pair-degree", config.DefaultPairDegree, "Polynomial degree of the pair basis")

	fs.StringArrayVar(&f.solvers, "solver", nil, "Solver as KIND=[ARGS] (can be repeated; default rrqr=[1e-12])")
	fs.StringArrayVar(&f.keys, "key", nil, "Field for an observation kind as KIND=FIELD (can be repeated)")
	fs.StringArrayVar(&f.weights, "weights", nil, "Weight scheme as JSON (can be repeated)")
	fs.StringArrayVar(&f.e0, "e0", nil, "Reference energy as SPECIES=ENERGY (can be repeated)")
	fs.IntVar(&f.numThreads, "num-threads", 0, "Worker count for the database build (default $"+config.EnvNumThreads+" or CPU count)")
}

// options merges the run file, if any, with the flags the user actually set.
func (f *fitFlags) options(cmd *cobra.Command) (*config.Options, error) {
	opts := &config.Options{}
	if f.configFile != "" {
		loaded, err := config.LoadFile(config.ExpandPath(f.configFile))
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	changed := cmd.Flags().Changed
	if changed("fitting-set") {
		opts.Datasets = f.datasets
	}
	if changed("outfile-base") {
		opts.OutBase = f.outBase
	}
	if changed("format") {
		opts.Formats = f.formats
	}
	if changed("db") {
		opts.DBPath = f.dbPath
	}
	if changed("load-db") {
		opts.LoadDB = f.loadDB
	}
	if changed("save-db") {
		opts.SaveDB = f.saveDB
	}
	if changed("dry-run") {
		opts.DryRun = f.dryRun
	}
	if changed("resume") {
		opts.Resume = f.resume
	}
	if changed("r0") {
		opts.R0 = &f.r0
	}
	if changed("r-in") {
		opts.RIn = &f.rIn
	}
	if changed("r-cut") {
		opts.RCut = &f.rCut
	}
	if changed("pair-r-cut") {
		opts.PairRCut = &f.pairRCut
	}
	if changed("body-order") {
		opts.BodyOrder = f.bodyOrder
	}
	if changed("degree") {
		opts.Degree = f.degree
	}
	if changed("pair-degree") {
		opts.PairDegree = &f.pairDegree
	}
	if changed("solver") {
		opts.Solvers = f.solvers
	}
	if changed("key") {
		opts.Keys = f.keys
	}
	if changed("weights") {
		opts.Weights = f.weights
	}
	if changed("e0") {
		opts.E0 = f.e0
	}
	if changed("num-threads") {
		opts.NumThreads = f.numThreads
	}
	return opts, nil
}
