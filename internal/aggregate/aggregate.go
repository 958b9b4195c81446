// Package aggregate renames per-source response tables into canonical
// question texts, merges them into one dataset and cuts per-recipient
// extracts re-encoded into a concrete code scheme.
//
// Every function here is pure: inputs (the question master, source tables,
// the merged dataset) are only read, and recoverable findings are returned as
// diagnostics alongside the result.
package aggregate

import (
	"errors"
	"fmt"

	"surveyagg/internal/diag"
)

var (
	// ErrEmptyDataset is returned when the merge has no columns or no rows.
	ErrEmptyDataset = errors.New("aggregate: empty dataset")
	// ErrNoColumnsSelected is returned when a recipient selection matches no
	// column of the merged dataset.
	ErrNoColumnsSelected = errors.New("aggregate: no columns selected")
)

// Columns names the two structural columns every source table carries.
type Columns struct {
	RowID     string
	Timestamp string
}

// DefaultColumns returns the column names used by the survey tool exports.
func DefaultColumns() Columns {
	return Columns{RowID: "NO", Timestamp: "回答日時"}
}

func (c Columns) structural(label string) bool {
	return label == c.RowID || label == c.Timestamp
}

func warnf(stage, subject, format string, args ...any) diag.Diagnostic {
	return diag.Diagnostic{Severity: diag.Warn, Stage: stage, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func infof(stage, subject, format string, args ...any) diag.Diagnostic {
	return diag.Diagnostic{Severity: diag.Info, Stage: stage, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// sample renders at most n labels for a diagnostic message.
func sample(labels []string, n int) string {
	if len(labels) <= n {
		return fmt.Sprintf("%q", labels)
	}
	return fmt.Sprintf("%q and %d more", labels[:n], len(labels)-n)
}
