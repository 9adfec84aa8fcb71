// Package diag carries defaulting and fallback decisions from pipeline stages
// back to the caller as structured records.
package diag

import "fmt"

// Severity classifies a diagnostic record.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Record is one reported decision made by a stage.
type Record struct {
	Stage    string   `json:"stage"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// List is an ordered collection of records.
type List []Record

// Infof appends an informational record.
func (l *List) Infof(stage, format string, args ...interface{}) {
	*l = append(*l, Record{Stage: stage, Message: fmt.Sprintf(format, args...), Severity: SeverityInfo})
}

// Warnf appends a warning record.
func (l *List) Warnf(stage, format string, args ...interface{}) {
	*l = append(*l, Record{Stage: stage, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// Extend appends all records of other.
func (l *List) Extend(other List) {
	*l = append(*l, other...)
}

// Warnings returns only the warning records.
func (l List) Warnings() List {
	var out List
	for _, r := range l {
		if r.Severity == SeverityWarning {
			out = append(out, r)
		}
	}
	return out
}

// HasStage reports whether any record was emitted by the given stage.
func (l List) HasStage(stage string) bool {
	for _, r := range l {
		if r.Stage == stage {
			return true
		}
	}
	return false
}
