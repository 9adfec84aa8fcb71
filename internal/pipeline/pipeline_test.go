package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matsen/acefit/internal/config"
	"github.com/matsen/acefit/internal/lsq"
	"github.com/matsen/acefit/internal/refenergy"
)

const copperData = `{"symbols":["Cu"],"positions":[[0,0,0]],"info":{"config_type":"isolated_atom","energy":-3.5}}
{"symbols":["Cu","Cu"],"positions":[[0,0,0],[0,0,2.3]],"info":{"config_type":"dimer","energy":-7.6},"arrays":{"forces":[[0,0,-0.8],[0,0,0.8]]}}
{"symbols":["Cu","Cu"],"positions":[[0,0,0],[0,0,2.7]],"info":{"config_type":"dimer","energy":-8.1},"arrays":{"forces":[[0,0,0.3],[0,0,-0.3]]}}
{"symbols":["Cu","Cu","Cu"],"positions":[[0,0,0],[2.5,0,0],[1.25,2.1,0]],"info":{"config_type":"trimer","energy":-12.4},"arrays":{"forces":[[0.1,0.05,0],[-0.1,0.05,0],[0,-0.1,0]]}}
{"symbols":["Cu","Cu","Cu","Cu"],"positions":[[0,0,0],[0,1.805,1.805],[1.805,0,1.805],[1.805,1.805,0]],"cell":[[3.61,0,0],[0,3.61,0],[0,0,3.61]],"pbc":[true,true,true],"info":{"config_type":"bulk","energy":-28,"virial":[0.4,0.4,0.4,0,0,0]},"arrays":{"forces":[[0,0,0],[0,0,0],[0,0,0],[0,0,0]]}}
`

func writeDataset(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "train.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func resolve(t *testing.T, opts config.Options) *config.Run {
	t.Helper()
	run, err := opts.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return run
}

func smallOptions(dataset, outBase string) config.Options {
	pairDegree := 2
	return config.Options{
		Datasets:   []string{dataset},
		OutBase:    outBase,
		BodyOrder:  2,
		Degree:     3,
		PairDegree: &pairDegree,
		NumThreads: 2,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DryRun(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions(writeDataset(t, dir, copperData), filepath.Join(dir, "cu"))
	opts.DryRun = true

	rep, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rep.Size == nil {
		t.Fatal("dry run produced no size report")
	}
	if rep.Database != nil || len(rep.Artifacts) != 0 {
		t.Errorf("dry run produced database %v / artifacts %v", rep.Database, rep.Artifacts)
	}
	if rep.Size.BasisLen != rep.BasisLen {
		t.Errorf("size basis len = %d, report basis len = %d", rep.Size.BasisLen, rep.BasisLen)
	}

	// 1 + (1+6) + (1+6) + (1+9) + (1+12+6)
	if rep.Size.Rows != 44 {
		t.Errorf("size rows = %d, want 44", rep.Size.Rows)
	}
	data, err := os.ReadFile(filepath.Join(dir, "cu.size"))
	if err != nil {
		t.Fatalf("reading size report: %v", err)
	}
	if want := fmt.Sprintf("44 %d\n", rep.BasisLen); string(data) != want {
		t.Errorf("size report = %q, want %q", data, want)
	}
	if lsq.Exists(lsq.DefaultPath(filepath.Join(dir, "cu"))) {
		t.Error("dry run created a database")
	}
}

func TestRun_ReferenceEnergies(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions(writeDataset(t, dir, copperData), filepath.Join(dir, "cu"))
	opts.DryRun = true

	rep, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rep.E0) != 1 || rep.E0["Cu"] != -3.5 {
		t.Errorf("E0 = %v, want {Cu: -3.5}", rep.E0)
	}
	if len(rep.Species) != 1 || rep.Species[0] != "Cu" {
		t.Errorf("Species = %v", rep.Species)
	}
	if rep.Cutoffs == nil || rep.Cutoffs.R0 != 2.553 {
		t.Errorf("Cutoffs = %+v, want r0 from the element table", rep.Cutoffs)
	}
	if !rep.Diagnostics.HasStage("cutoff") {
		t.Error("derived cutoffs should be reported")
	}
}

func TestRun_FullSweep(t *testing.T) {
	dir := t.TempDir()
	outBase := filepath.Join(dir, "cu")
	opts := smallOptions(writeDataset(t, dir, copperData), outBase)
	opts.Formats = []string{".json", ".yace"}
	opts.Weights = []string{
		`{"default":{"E":30,"F":1,"V":1}}`,
		`{"default":{"E":1,"F":10,"V":1}}`,
	}
	opts.SaveDB = true

	rep, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rep.Database == nil || rep.Database.Mode != lsq.ModeBuilt || rep.Database.Rows != 44 {
		t.Fatalf("Database = %+v", rep.Database)
	}
	if len(rep.Artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(rep.Artifacts))
	}
	for i, a := range rep.Artifacts {
		wantBase := fmt.Sprintf("%s_weights_i_%d", outBase, i+1)
		if a.Base != wantBase {
			t.Errorf("artifact %d base = %q, want %q", i, a.Base, wantBase)
		}
		for _, ext := range []string{".json", ".yace"} {
			if _, err := os.Stat(wantBase + ext); err != nil {
				t.Errorf("missing %s: %v", wantBase+ext, err)
			}
		}
		if _, ok := a.Errors["set"]; !ok {
			t.Errorf("artifact %d has no set-wide errors", i)
		}
	}
	if !lsq.Exists(lsq.DefaultPath(outBase)) {
		t.Fatal("database was not saved")
	}

	// A second run reuses the saved database.
	opts.LoadDB = true
	opts.Resume = false
	again, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if again.Database.Mode != lsq.ModeLoaded || again.Database.ID != rep.Database.ID {
		t.Errorf("second run database = %+v, want loaded %s", again.Database, rep.Database.ID)
	}
}

func TestRun_Resume(t *testing.T) {
	dir := t.TempDir()
	outBase := filepath.Join(dir, "cu")
	opts := smallOptions(writeDataset(t, dir, copperData), outBase)

	if _, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	opts.Resume = true
	rep, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if len(rep.Artifacts) != 1 || !rep.Artifacts[0].Skipped {
		t.Errorf("Artifacts = %+v, want one skipped", rep.Artifacts)
	}
}

func TestRun_Errors(t *testing.T) {
	noIsolated := strings.SplitN(copperData, "\n", 2)[1]

	t.Run("missing reference energy", func(t *testing.T) {
		dir := t.TempDir()
		opts := smallOptions(writeDataset(t, dir, noIsolated), filepath.Join(dir, "cu"))
		rep, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
		if !errors.Is(err, refenergy.ErrMissing) {
			t.Fatalf("Run() error = %v, want ErrMissing", err)
		}
		if rep.Configs != 4 {
			t.Errorf("report configs = %d, want 4", rep.Configs)
		}
	})

	t.Run("e0 given twice", func(t *testing.T) {
		dir := t.TempDir()
		opts := smallOptions(writeDataset(t, dir, copperData), filepath.Join(dir, "cu"))
		opts.E0 = []string{"Cu=-3.4"}
		_, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
		if !errors.Is(err, refenergy.ErrConflict) {
			t.Fatalf("Run() error = %v, want ErrConflict", err)
		}
	})

	t.Run("missing dataset", func(t *testing.T) {
		dir := t.TempDir()
		opts := smallOptions(filepath.Join(dir, "nope.jsonl"), filepath.Join(dir, "cu"))
		if _, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts)); err == nil {
			t.Fatal("Run() succeeded on a missing dataset")
		}
	})

	t.Run("load without database", func(t *testing.T) {
		dir := t.TempDir()
		opts := smallOptions(writeDataset(t, dir, copperData), filepath.Join(dir, "cu"))
		opts.LoadDB = true
		rep, err := NewRunner(quietLogger()).Run(context.Background(), resolve(t, opts))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.Database.Mode != lsq.ModeBuilt || len(rep.Diagnostics.Warnings()) == 0 {
			t.Errorf("want a fallback build with a warning, got %+v / %v", rep.Database, rep.Diagnostics)
		}
	})
}
