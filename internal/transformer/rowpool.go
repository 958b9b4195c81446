// Package transformer provides the pooled row container passed from the
// streaming parsers to the table collectors, so large exports are read with
// little heap churn.
package transformer

import "sync"

// Row is one positional record as read from a source sheet.
//
// A Row has a single owner. Sending it on a channel hands it over; the
// collector that copies the cells out calls Release. Parsers that stop on
// ctx cancellation call Discard instead, since a consumer draining the
// channel may still hold the cells.
type Row struct {
	Cells []any
	Line  int // 1-based physical line in the source, if known
}

var rows = sync.Pool{New: func() any { return new(Row) }}

// GetRow returns a Row of width cells, all nil.
func GetRow(width int) *Row {
	r := rows.Get().(*Row)
	r.reset(width)
	return r
}

func (r *Row) reset(width int) {
	if cap(r.Cells) < width {
		r.Cells = make([]any, width)
	} else {
		r.Cells = r.Cells[:width]
		clear(r.Cells)
	}
	r.Line = 0
}

// Values returns a detached copy of the cells, safe to keep after Release.
func (r *Row) Values() []any {
	return append([]any(nil), r.Cells...)
}

// Release hands r back for reuse.
func (r *Row) Release() { rows.Put(r) }

// Discard drops r without reuse.
func (r *Row) Discard() {
	r.Cells, r.Line = nil, 0
}
