package lsq

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"

	_ "modernc.org/sqlite"
)

// CurrentVersion is the on-disk format version.
const CurrentVersion = 1

// File name suffixes.
const (
	PathSuffix = "_LSQ"
	dataSuffix = "_data.db"
	infoSuffix = "_info.json"
)

// DefaultPath returns the database path used when none is configured.
func DefaultPath(outBase string) string {
	return outBase + PathSuffix
}

// DataPath returns the primary data file of the database at path.
func DataPath(path string) string {
	return path + dataSuffix
}

// InfoPath returns the metadata file of the database at path.
func InfoPath(path string) string {
	return path + infoSuffix
}

// Exists reports whether the metadata file of the database at path exists.
func Exists(path string) bool {
	_, err := os.Stat(InfoPath(path))
	return err == nil
}

// Info is the metadata sidecar of a persisted database.
type Info struct {
	Version     int        `json:"version"`
	ID          string     `json:"id"`
	Basis       basis.Spec `json:"basis"`
	BasisLen    int        `json:"basis_len"`
	Rows        int        `json:"rows"`
	Configs     int        `json:"configs"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Info returns the database metadata.
func (d *Database) Info() Info {
	return Info{
		Version:     CurrentVersion,
		ID:          d.ID,
		Basis:       d.Spec,
		BasisLen:    d.BasisLen,
		Rows:        d.NumRows(),
		Configs:     d.NumConfigs(),
		Fingerprint: d.Fingerprint,
		CreatedAt:   d.CreatedAt,
	}
}

const schemaDDL = `
CREATE TABLE configs (
  idx INTEGER PRIMARY KEY,
  record TEXT NOT NULL
);
CREATE TABLE rows (
  config INTEGER NOT NULL,
  kind TEXT NOT NULL,
  nrows INTEGER NOT NULL,
  data BLOB NOT NULL,
  PRIMARY KEY (config, kind)
);
CREATE TABLE _meta (
  key TEXT PRIMARY KEY,
  value TEXT
);`

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	return db, nil
}

// Save writes the data file and then the metadata file. Both are written to
// temporary files and renamed into place.
func (d *Database) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	dataPath := DataPath(path)
	tempPath := dataPath + ".tmp"
	os.Remove(tempPath)
	if err := d.writeData(tempPath); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, dataPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	data, err := json.MarshalIndent(d.Info(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	infoPath := InfoPath(path)
	if err := os.WriteFile(infoPath+".tmp", append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := os.Rename(infoPath+".tmp", infoPath); err != nil {
		os.Remove(infoPath + ".tmp")
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (d *Database) writeData(path string) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	cfgStmt, err := tx.Prepare(`INSERT INTO configs (idx, record) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer cfgStmt.Close()

	rowStmt, err := tx.Prepare(`INSERT INTO rows (config, kind, nrows, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer rowStmt.Close()

	for i := range d.configs {
		rec, err := atoms.Encode(&d.configs[i])
		if err != nil {
			return fmt.Errorf("encoding configuration %d: %w", i, err)
		}
		if _, err := cfgStmt.Exec(i, string(rec)); err != nil {
			return fmt.Errorf("inserting configuration %d: %w", i, err)
		}
		for _, b := range d.blocks[i] {
			if _, err := rowStmt.Exec(i, string(b.Kind), len(b.Rows), encodeRows(b.Rows)); err != nil {
				return fmt.Errorf("inserting %s rows of configuration %d: %w", b.Kind, i, err)
			}
		}
	}

	meta := map[string]string{
		"version":     strconv.Itoa(CurrentVersion),
		"id":          d.ID,
		"fingerprint": d.Fingerprint,
		"basis_len":   strconv.Itoa(d.BasisLen),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Load reads the database persisted at path.
// Returns ErrNotFound if the metadata file does not exist.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(InfoPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if info.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: got %d, want %d (rebuild without --load-db)",
			ErrUnsupportedVersion, info.Version, CurrentVersion)
	}

	if _, err := os.Stat(DataPath(path)); err != nil {
		return nil, fmt.Errorf("%w: metadata present but data file missing: %v", ErrDatabaseMismatch, err)
	}
	db, err := openDB(DataPath(path))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var storedFP string
	if err := db.QueryRow(`SELECT value FROM _meta WHERE key = 'fingerprint'`).Scan(&storedFP); err != nil {
		return nil, fmt.Errorf("reading stored fingerprint: %w", err)
	}
	if storedFP != info.Fingerprint {
		return nil, fmt.Errorf("%w: data file and metadata disagree", ErrDatabaseMismatch)
	}

	configs, err := readConfigs(db)
	if err != nil {
		return nil, err
	}
	if len(configs) != info.Configs {
		return nil, fmt.Errorf("%w: metadata lists %d configurations, data file has %d",
			ErrDatabaseMismatch, info.Configs, len(configs))
	}

	blocks, err := readBlocks(db, len(configs), info.BasisLen)
	if err != nil {
		return nil, err
	}

	return &Database{
		ID:          info.ID,
		Spec:        info.Basis,
		BasisLen:    info.BasisLen,
		Fingerprint: info.Fingerprint,
		CreatedAt:   info.CreatedAt,
		configs:     configs,
		blocks:      blocks,
	}, nil
}

func readConfigs(db *sql.DB) ([]atoms.Configuration, error) {
	rows, err := db.Query(`SELECT record FROM configs ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("querying configurations: %w", err)
	}
	defer rows.Close()

	keys := atoms.DefaultKeys()
	var configs []atoms.Configuration
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("scanning configuration: %w", err)
		}
		c, err := atoms.Decode([]byte(rec), keys)
		if err != nil {
			return nil, fmt.Errorf("configuration %d: %w", len(configs), err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func readBlocks(db *sql.DB, nconfigs, basisLen int) ([][]Block, error) {
	rows, err := db.Query(`SELECT config, kind, nrows, data FROM rows`)
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close()

	byKind := make([]map[atoms.Kind][][]float64, nconfigs)
	for rows.Next() {
		var (
			idx, nrows int
			kind       string
			data       []byte
		)
		if err := rows.Scan(&idx, &kind, &nrows, &data); err != nil {
			return nil, fmt.Errorf("scanning rows: %w", err)
		}
		if idx < 0 || idx >= nconfigs {
			return nil, fmt.Errorf("%w: rows reference configuration %d of %d", ErrDatabaseMismatch, idx, nconfigs)
		}
		block, err := decodeRows(data, nrows, basisLen)
		if err != nil {
			return nil, fmt.Errorf("configuration %d %s rows: %w", idx, kind, err)
		}
		if byKind[idx] == nil {
			byKind[idx] = make(map[atoms.Kind][][]float64)
		}
		byKind[idx][atoms.Kind(kind)] = block
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([][]Block, nconfigs)
	for i, m := range byKind {
		for _, kind := range atoms.FittedKinds {
			if r, ok := m[kind]; ok {
				out[i] = append(out[i], Block{Kind: kind, Rows: r})
			}
		}
	}
	return out, nil
}

// encodeRows packs rows as little-endian float64s in row-major order.
func encodeRows(rows [][]float64) []byte {
	if len(rows) == 0 {
		return []byte{}
	}
	buf := make([]byte, 0, 8*len(rows)*len(rows[0]))
	for _, r := range rows {
		for _, x := range r {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
		}
	}
	return buf
}

func decodeRows(data []byte, nrows, ncols int) ([][]float64, error) {
	if len(data) != 8*nrows*ncols {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d rows", ErrDatabaseMismatch, len(data), nrows, ncols)
	}
	out := make([][]float64, nrows)
	for r := range out {
		out[r] = make([]float64, ncols)
		for c := range out[r] {
			off := 8 * (r*ncols + c)
			out[r][c] = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		}
	}
	return out, nil
}
