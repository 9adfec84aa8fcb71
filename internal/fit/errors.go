package fit

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/potential"
	"gonum.org/v1/gonum/floats"
)

// SetKey is the ErrorTable row aggregating every configuration.
const SetKey = "set"

// Stats summarizes residuals of one observation kind. Energy and virial
// residuals are per atom; force residuals are per component.
type Stats struct {
	Count   int     `json:"count"`
	RMSE    float64 `json:"rmse"`
	MAE     float64 `json:"mae"`
	RelRMSE float64 `json:"rel_rmse"` // RMSE / RMS of observed values; 0 when undefined
}

// ErrorTable maps config type (and SetKey) to kind to residual statistics.
type ErrorTable map[string]map[atoms.Kind]Stats

type accum struct {
	resid []float64
	obs   []float64
}

// Errors evaluates pot on every configuration and tabulates residuals per
// config type and over the whole set.
func Errors(pot *potential.Potential, configs []atoms.Configuration) ErrorTable {
	acc := make(map[string]map[atoms.Kind]*accum)
	add := func(group string, kind atoms.Kind, resid, obs []float64) {
		if acc[group] == nil {
			acc[group] = make(map[atoms.Kind]*accum)
		}
		a := acc[group][kind]
		if a == nil {
			a = &accum{}
			acc[group][kind] = a
		}
		a.resid = append(a.resid, resid...)
		a.obs = append(a.obs, obs...)
	}

	for i := range configs {
		c := &configs[i]
		pred := pot.Predict(c)
		for _, kind := range atoms.FittedKinds {
			obs := c.Observed(kind)
			if obs == nil {
				continue
			}
			scale := 1.0
			if kind != atoms.Forces {
				scale = 1 / float64(c.NumAtoms())
			}
			resid := make([]float64, len(obs))
			floats.SubTo(resid, pred[kind], obs)
			floats.Scale(scale, resid)
			scaled := make([]float64, len(obs))
			floats.ScaleTo(scaled, scale, obs)

			add(c.ConfigType, kind, resid, scaled)
			add(SetKey, kind, resid, scaled)
		}
	}

	table := make(ErrorTable, len(acc))
	for group, kinds := range acc {
		table[group] = make(map[atoms.Kind]Stats, len(kinds))
		for kind, a := range kinds {
			table[group][kind] = summarize(a)
		}
	}
	return table
}

func summarize(a *accum) Stats {
	n := float64(len(a.resid))
	if n == 0 {
		return Stats{}
	}
	s := Stats{
		Count: len(a.resid),
		RMSE:  floats.Norm(a.resid, 2) / math.Sqrt(n),
		MAE:   floats.Norm(a.resid, 1) / n,
	}
	if rms := floats.Norm(a.obs, 2) / math.Sqrt(n); rms > 0 {
		s.RelRMSE = s.RMSE / rms
	}
	return s
}

// Groups returns the config types in sorted order with SetKey last.
func (t ErrorTable) Groups() []string {
	var out []string
	for g := range t {
		if g != SetKey {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	if _, ok := t[SetKey]; ok {
		out = append(out, SetKey)
	}
	return out
}

// FormatTable formats the table as aligned text.
func FormatTable(t ErrorTable) string {
	if len(t) == 0 {
		return "No observations.\n"
	}

	headers := []string{"Type", "Kind", "N", "RMSE", "MAE", "Rel RMSE"}
	var rows [][]string
	for _, g := range t.Groups() {
		for _, kind := range atoms.FittedKinds {
			s, ok := t[g][kind]
			if !ok {
				continue
			}
			rows = append(rows, []string{
				g, string(kind), fmt.Sprintf("%d", s.Count),
				fmt.Sprintf("%.4g", s.RMSE), fmt.Sprintf("%.4g", s.MAE),
				fmt.Sprintf("%.2f%%", 100*s.RelRMSE),
			})
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			// Left-align type and kind; right-align numbers
			if i <= 1 {
				sb.WriteString(padRight(cell, widths[i]))
			} else {
				sb.WriteString(padLeft(cell, widths[i]))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	underline := make([]string, len(widths))
	for i, w := range widths {
		underline[i] = strings.Repeat("-", w)
	}
	writeRow(underline)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
