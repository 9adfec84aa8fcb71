package lsq

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/cutoff"
	"github.com/matsen/acefit/internal/diag"
	"gonum.org/v1/gonum/spatial/r3"
)

// fakeBasis has two functions: atom count and the sum of x coordinates.
type fakeBasis struct{}

func (fakeBasis) Len() int { return 2 }

func (fakeBasis) Labels() []string { return []string{"n", "sumx"} }

func (fakeBasis) Evaluate(c *atoms.Configuration) basis.Values {
	n := c.NumAtoms()
	sumx := 0.0
	for _, p := range c.Positions {
		sumx += p.X
	}
	v := basis.Values{
		Energy: []float64{float64(n), sumx},
		Forces: [][]float64{make([]float64, 3*n), make([]float64, 3*n)},
		Virial: [][6]float64{{1, 1, 1, 0, 0, 0}, {sumx, 0, 0, 0, 0, 0}},
	}
	for i := 0; i < n; i++ {
		v.Forces[1][3*i] = -1
	}
	return v
}

func testSpec() basis.Spec {
	return basis.Spec{
		Species:    []string{"Cu"},
		BodyOrder:  3,
		Degree:     4,
		PairDegree: 2,
		Cutoffs:    cutoff.Params{R0: 2.5, RIn: 2, RCut: 5, PairRCut: 7.5},
	}
}

func testConfigs() []atoms.Configuration {
	e1, e2 := -3.5, -7.2
	return []atoms.Configuration{
		{
			Species:    []string{"Cu"},
			Positions:  []r3.Vec{{}},
			ConfigType: atoms.IsolatedAtomType,
			Energy:     &e1,
		},
		{
			Species:    []string{"Cu", "Cu"},
			Positions:  []r3.Vec{{X: 0.1}, {X: 2.4}},
			ConfigType: "dimer",
			Energy:     &e2,
			Forces:     []r3.Vec{{X: 0.3}, {X: -0.3}},
			Virial:     &[6]float64{0.5, 0, 0, 0, 0, 0},
		},
	}
}

func outBase(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "fit")
}

func TestPrepare_DryRun(t *testing.T) {
	base := outBase(t)
	m := NewManager(nil)

	out, err := m.Prepare(context.Background(), Request{OutBase: base, DryRun: true, Save: true}, fakeBasis{}, testSpec(), testConfigs())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if out.Mode != ModeDryRun || out.DB != nil {
		t.Fatalf("Prepare() mode = %s db = %v, want dry-run without database", out.Mode, out.DB)
	}

	// 1 (E) + 1 (E) + 6 (F) + 6 (V)
	data, err := os.ReadFile(base + ".size")
	if err != nil {
		t.Fatalf("reading size report: %v", err)
	}
	if got, want := string(data), "14 2\n"; got != want {
		t.Errorf("size report = %q, want %q", got, want)
	}
	if _, err := os.Stat(DataPath(DefaultPath(base))); !os.IsNotExist(err) {
		t.Errorf("dry run wrote a database file")
	}
}

func TestPrepare_BuildSaveLoad(t *testing.T) {
	base := outBase(t)
	m := NewManager(nil)
	ctx := context.Background()
	configs := testConfigs()

	built, err := m.Prepare(ctx, Request{OutBase: base, Save: true, Threads: 2}, fakeBasis{}, testSpec(), configs)
	if err != nil {
		t.Fatalf("Prepare(build) error = %v", err)
	}
	if built.Mode != ModeBuilt {
		t.Fatalf("mode = %s, want built", built.Mode)
	}
	if built.Path != base+"_LSQ" {
		t.Errorf("path = %q, want default %q", built.Path, base+"_LSQ")
	}
	for _, p := range []string{DataPath(built.Path), InfoPath(built.Path)} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}

	loaded, err := m.Prepare(ctx, Request{OutBase: base, Load: true}, fakeBasis{}, testSpec(), configs)
	if err != nil {
		t.Fatalf("Prepare(load) error = %v", err)
	}
	if loaded.Mode != ModeLoaded {
		t.Fatalf("mode = %s, want loaded", loaded.Mode)
	}
	if loaded.DB.ID != built.DB.ID {
		t.Errorf("loaded ID = %s, want %s", loaded.DB.ID, built.DB.ID)
	}
	if loaded.DB.NumRows() != 14 {
		t.Errorf("loaded NumRows() = %d, want 14", loaded.DB.NumRows())
	}
	for i := 0; i < built.DB.NumConfigs(); i++ {
		if !reflect.DeepEqual(loaded.DB.Blocks(i), built.DB.Blocks(i)) {
			t.Errorf("config %d blocks differ after reload", i)
		}
	}
	if loaded.DB.Config(1).ConfigType != "dimer" {
		t.Errorf("loaded config type = %q", loaded.DB.Config(1).ConfigType)
	}
}

func TestPrepare_LoadMissingFallsBack(t *testing.T) {
	base := outBase(t)
	out, err := NewManager(nil).Prepare(context.Background(), Request{OutBase: base, Load: true}, fakeBasis{}, testSpec(), testConfigs())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if out.Mode != ModeBuilt {
		t.Errorf("mode = %s, want built", out.Mode)
	}
	if len(out.Diagnostics.Warnings()) != 1 {
		t.Errorf("warnings = %v, want one fallback warning", out.Diagnostics)
	}
	if out.Diagnostics[0].Severity != diag.SeverityWarning {
		t.Errorf("severity = %s", out.Diagnostics[0].Severity)
	}
	if Exists(out.Path) {
		t.Errorf("database persisted without save request")
	}
}

func TestPrepare_LoadStale(t *testing.T) {
	base := outBase(t)
	m := NewManager(nil)
	ctx := context.Background()

	if _, err := m.Prepare(ctx, Request{OutBase: base, Save: true}, fakeBasis{}, testSpec(), testConfigs()); err != nil {
		t.Fatalf("Prepare(build) error = %v", err)
	}

	changed := testConfigs()
	changed[1].Positions[1].X = 2.5
	_, err := m.Prepare(ctx, Request{OutBase: base, Load: true}, fakeBasis{}, testSpec(), changed)
	if !errors.Is(err, ErrDatabaseMismatch) {
		t.Errorf("Prepare(load) error = %v, want ErrDatabaseMismatch", err)
	}

	spec := testSpec()
	spec.Degree = 5
	_, err = m.Prepare(ctx, Request{OutBase: base, Load: true}, fakeBasis{}, spec, testConfigs())
	if !errors.Is(err, ErrDatabaseMismatch) {
		t.Errorf("Prepare(load, new spec) error = %v, want ErrDatabaseMismatch", err)
	}
}

func TestPrepare_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache", "db")
	out, err := NewManager(nil).Prepare(context.Background(),
		Request{Path: path, OutBase: filepath.Join(dir, "fit"), Save: true}, fakeBasis{}, testSpec(), testConfigs())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if out.Path != path || !Exists(path) {
		t.Errorf("database not saved at %s", path)
	}
}

func TestBuild_Order(t *testing.T) {
	var configs []atoms.Configuration
	for i := 0; i < 20; i++ {
		e := float64(i)
		configs = append(configs, atoms.Configuration{
			Species:   []string{"Cu", "Cu"},
			Positions: []r3.Vec{{X: float64(i)}, {X: 1}},
			Energy:    &e,
		})
	}

	db, err := Build(context.Background(), fakeBasis{}, testSpec(), configs, BuildOptions{Threads: 4})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i := range configs {
		bs := db.Blocks(i)
		if len(bs) != 1 || bs[0].Kind != atoms.Energy {
			t.Fatalf("config %d blocks = %v, want one energy block", i, bs)
		}
		if got := bs[0].Rows[0][1]; got != float64(i)+1 {
			t.Errorf("config %d sumx = %v, want %v", i, got, float64(i)+1)
		}
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, fakeBasis{}, testSpec(), testConfigs(), BuildOptions{Threads: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(testSpec(), testConfigs())
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, _ := Fingerprint(testSpec(), testConfigs())
	if a != b {
		t.Errorf("Fingerprint() not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("Fingerprint() length = %d, want 64 hex chars", len(a))
	}

	reordered := testConfigs()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	c, _ := Fingerprint(testSpec(), reordered)
	if a == c {
		t.Errorf("Fingerprint() ignores configuration order")
	}
}

func TestRowsCodec(t *testing.T) {
	rows := [][]float64{{1.5, -2, 0}, {3e-300, 7, 8}}
	got, err := decodeRows(encodeRows(rows), 2, 3)
	if err != nil {
		t.Fatalf("decodeRows() error = %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("decodeRows() = %v, want %v", got, rows)
	}
	if _, err := decodeRows([]byte{1, 2, 3}, 1, 1); !errors.Is(err, ErrDatabaseMismatch) {
		t.Errorf("decodeRows(short) error = %v", err)
	}
}
