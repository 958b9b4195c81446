// Package table holds the in-memory, row-major table shared by the readers,
// the aggregation stages and the writers.
//
// Cells are either nil (absent) or a scalar value as produced by a reader
// (almost always string). Rows are treated as immutable once a table is built:
// stages that change the shape of a table (renaming, reindexing, projection)
// build new row slices or new label slices and never write into an existing
// row.
package table

import (
	"fmt"
	"strings"
	"time"
)

// Table is one sheet worth of data: ordered column labels and positional rows.
type Table struct {
	// Name identifies the table in diagnostics (usually the source name).
	Name    string
	Columns []string
	Rows    [][]any
}

// New returns an empty table with a copy of columns.
func New(name string, columns []string) *Table {
	return &Table{Name: name, Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Append adds a row. The row is padded or truncated to the table width.
func (t *Table) Append(row []any) {
	switch {
	case len(row) == len(t.Columns):
	case len(row) < len(t.Columns):
		padded := make([]any, len(t.Columns))
		copy(padded, row)
		row = padded
	default:
		row = row[:len(t.Columns)]
	}
	t.Rows = append(t.Rows, row)
}

// Index maps each label to its first position.
func (t *Table) Index() map[string]int {
	m := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, ok := m[c]; !ok {
			m[c] = i
		}
	}
	return m
}

// ColumnIndex returns the first position of label, or -1.
func (t *Table) ColumnIndex(label string) int {
	for i, c := range t.Columns {
		if c == label {
			return i
		}
	}
	return -1
}

// Has reports whether label is one of the columns.
func (t *Table) Has(label string) bool { return t.ColumnIndex(label) >= 0 }

// Cell returns the value at (row, label) or nil when either is missing.
func (t *Table) Cell(row int, label string) any {
	ci := t.ColumnIndex(label)
	if ci < 0 || row < 0 || row >= len(t.Rows) {
		return nil
	}
	r := t.Rows[row]
	if ci >= len(r) {
		return nil
	}
	return r[ci]
}

// Column returns a copy of the values of label, or nil when absent.
func (t *Table) Column(label string) []any {
	ci := t.ColumnIndex(label)
	if ci < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		if ci < len(r) {
			out[i] = r[ci]
		}
	}
	return out
}

// WithColumns returns a table sharing the rows of t but labelled with
// columns. It fails when the label count does not match the width.
func (t *Table) WithColumns(columns []string) (*Table, error) {
	if len(columns) != len(t.Columns) {
		return nil, fmt.Errorf("table %s: relabel with %d labels, want %d", t.Name, len(columns), len(t.Columns))
	}
	return &Table{Name: t.Name, Columns: append([]string(nil), columns...), Rows: t.Rows}, nil
}

// Project returns a new table restricted to columns, in that order. Labels
// missing from t produce all-nil columns.
func (t *Table) Project(columns []string) *Table {
	idx := t.Index()
	pos := make([]int, len(columns))
	for i, c := range columns {
		if p, ok := idx[c]; ok {
			pos[i] = p
		} else {
			pos[i] = -1
		}
	}

	out := &Table{Name: t.Name, Columns: append([]string(nil), columns...), Rows: make([][]any, len(t.Rows))}
	for ri, r := range t.Rows {
		nr := make([]any, len(columns))
		for ci, p := range pos {
			if p >= 0 && p < len(r) {
				nr[ci] = r[p]
			}
		}
		out.Rows[ri] = nr
	}
	return out
}

// DuplicateLabels returns the labels that occur more than once, in first
// occurrence order.
func (t *Table) DuplicateLabels() []string {
	seen := make(map[string]int, len(t.Columns))
	var dups []string
	for _, c := range t.Columns {
		seen[c]++
		if seen[c] == 2 {
			dups = append(dups, c)
		}
	}
	return dups
}

// String renders a compact, test-friendly form of the table.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, "|"))
	for _, r := range t.Rows {
		b.WriteByte('\n')
		for i, v := range r {
			if i > 0 {
				b.WriteByte('|')
			}
			b.WriteString(CellString(v))
		}
	}
	return b.String()
}

// TimeLayout is the rendering of timestamp cells.
const TimeLayout = "2006-01-02 15:04:05"

// CellString renders a cell for output; nil renders as "".
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(TimeLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
