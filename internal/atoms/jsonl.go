package atoms

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxLineCapacity is the maximum buffer size for one dataset line (64MB).
const MaxLineCapacity = 64 * 1024 * 1024

// ErrMalformed is returned for dataset records that cannot be interpreted.
var ErrMalformed = errors.New("malformed configuration")

// record is the on-disk JSON shape of one configuration.
type record struct {
	Symbols   []string                   `json:"symbols"`
	Positions [][3]float64               `json:"positions"`
	Cell      [][3]float64               `json:"cell,omitempty"`
	PBC       []bool                     `json:"pbc,omitempty"`
	Info      map[string]json.RawMessage `json:"info,omitempty"`
	Arrays    map[string]json.RawMessage `json:"arrays,omitempty"`
}

// Load reads configurations from one or more JSONL files, in file order.
// Observation values are looked up under the field names in keys.
func Load(paths []string, keys Keys) ([]Configuration, error) {
	var configs []Configuration
	for _, path := range paths {
		cs, err := loadFile(path, keys)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cs...)
	}
	return configs, nil
}

func loadFile(path string, keys Keys) ([]Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	var configs []Configuration
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), MaxLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		c, err := Decode(line, keys)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNum, err)
		}
		configs = append(configs, c)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return configs, nil
}

// Decode parses one JSON record.
func Decode(data []byte, keys Keys) (Configuration, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Configuration{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	c := Configuration{
		Species:    rec.Symbols,
		Positions:  toVecs(rec.Positions),
		ConfigType: DefaultConfigType,
	}
	if len(rec.Cell) != 0 {
		if len(rec.Cell) != 3 {
			return Configuration{}, fmt.Errorf("%w: cell must have 3 rows, got %d", ErrMalformed, len(rec.Cell))
		}
		for i := 0; i < 3; i++ {
			c.Cell[i] = r3.Vec{X: rec.Cell[i][0], Y: rec.Cell[i][1], Z: rec.Cell[i][2]}
		}
	}
	if len(rec.PBC) != 0 {
		if len(rec.PBC) != 3 {
			return Configuration{}, fmt.Errorf("%w: pbc must have 3 entries, got %d", ErrMalformed, len(rec.PBC))
		}
		copy(c.PBC[:], rec.PBC)
	}

	if raw, ok := rec.Info["config_type"]; ok {
		if err := json.Unmarshal(raw, &c.ConfigType); err != nil {
			return Configuration{}, fmt.Errorf("%w: config_type: %v", ErrMalformed, err)
		}
	}

	if raw, ok := lookup(rec, keys[Energy]); ok {
		var e float64
		if err := json.Unmarshal(raw, &e); err != nil {
			return Configuration{}, fmt.Errorf("%w: %s: %v", ErrMalformed, keys[Energy], err)
		}
		c.Energy = &e
	}

	if raw, ok := lookup(rec, keys[Forces]); ok {
		var fs [][3]float64
		if err := json.Unmarshal(raw, &fs); err != nil {
			return Configuration{}, fmt.Errorf("%w: %s: %v", ErrMalformed, keys[Forces], err)
		}
		c.Forces = toVecs(fs)
	}

	if raw, ok := lookup(rec, keys[Virial]); ok {
		v, err := decodeVirial(raw)
		if err != nil {
			return Configuration{}, fmt.Errorf("%w: %s: %v", ErrMalformed, keys[Virial], err)
		}
		c.Virial = v
	}

	if err := c.Validate(); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Encode writes a configuration in the record shape under DefaultKeys.
func Encode(c *Configuration) ([]byte, error) {
	keys := DefaultKeys()
	rec := record{
		Symbols:   c.Species,
		Positions: fromVecs(c.Positions),
		Cell:      fromVecs(c.Cell[:]),
		PBC:       c.PBC[:],
		Info:      map[string]json.RawMessage{},
		Arrays:    map[string]json.RawMessage{},
	}

	put := func(m map[string]json.RawMessage, key string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m[key] = data
		return nil
	}

	if err := put(rec.Info, "config_type", c.ConfigType); err != nil {
		return nil, err
	}
	if c.Energy != nil {
		if err := put(rec.Info, keys[Energy], *c.Energy); err != nil {
			return nil, err
		}
	}
	if c.Virial != nil {
		if err := put(rec.Info, keys[Virial], c.Virial[:]); err != nil {
			return nil, err
		}
	}
	if c.Forces != nil {
		if err := put(rec.Arrays, keys[Forces], fromVecs(c.Forces)); err != nil {
			return nil, err
		}
	}

	return json.Marshal(rec)
}

// lookup finds a field in info first, then arrays.
func lookup(rec record, key string) (json.RawMessage, bool) {
	if key == "" {
		return nil, false
	}
	if raw, ok := rec.Info[key]; ok {
		return raw, true
	}
	raw, ok := rec.Arrays[key]
	return raw, ok
}

// decodeVirial accepts Voigt (6 values), a flat 3x3 (9 values) or a nested 3x3.
func decodeVirial(raw json.RawMessage) (*[6]float64, error) {
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		var nested [][3]float64
		if err2 := json.Unmarshal(raw, &nested); err2 != nil || len(nested) != 3 {
			return nil, fmt.Errorf("expected 6 or 9 numbers")
		}
		flat = []float64{
			nested[0][0], nested[0][1], nested[0][2],
			nested[1][0], nested[1][1], nested[1][2],
			nested[2][0], nested[2][1], nested[2][2],
		}
	}

	var v [6]float64
	switch len(flat) {
	case 6:
		copy(v[:], flat)
	case 9:
		v = [6]float64{flat[0], flat[4], flat[8], flat[5], flat[2], flat[1]}
	default:
		return nil, fmt.Errorf("expected 6 or 9 numbers, got %d", len(flat))
	}
	return &v, nil
}

func toVecs(xs [][3]float64) []r3.Vec {
	if xs == nil {
		return nil
	}
	out := make([]r3.Vec, len(xs))
	for i, x := range xs {
		out[i] = r3.Vec{X: x[0], Y: x[1], Z: x[2]}
	}
	return out
}

func fromVecs(vs []r3.Vec) [][3]float64 {
	if vs == nil {
		return nil
	}
	out := make([][3]float64, len(vs))
	for i, v := range vs {
		out[i] = [3]float64{v.X, v.Y, v.Z}
	}
	return out
}
