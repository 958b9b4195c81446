package aggregate

import (
	"sort"
	"time"

	"surveyagg/internal/diag"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

// Input is one renamed source table.
type Input struct {
	Source string
	Table  *table.Table
}

// Dataset is the merged, canonical response table. Rows are ordered by
// timestamp; Origin[i] and Time[i] describe row i.
type Dataset struct {
	Table  *table.Table
	Origin []string
	// Time holds the parsed timestamp per row. It is all zero when no input
	// carried a timestamp column.
	Time []time.Time
	Cols Columns

	// InputRows is the number of rows before timestamp filtering.
	InputRows int

	pos   map[string]int
	index *question.PrefixIndex
}

// Columns returns the dataset column labels.
func (d *Dataset) Columns() []string { return append([]string(nil), d.Table.Columns...) }

// Len returns the number of rows.
func (d *Dataset) Len() int { return d.Table.Len() }

// Has reports whether label is a dataset column.
func (d *Dataset) Has(label string) bool {
	_, ok := d.pos[label]
	return ok
}

// Family returns the columns equal to text or starting with text + "_", in
// dataset column order.
func (d *Dataset) Family(text string) []string {
	fam := d.index.Family(text)
	sort.Slice(fam, func(i, j int) bool { return d.pos[fam[i]] < d.pos[fam[j]] })
	return fam
}

// Merge concatenates inputs over the union of their columns, drops rows whose
// timestamp cannot be parsed and sorts the rest by timestamp. Columns are
// ordered naturally with the row id first and the timestamp last.
func Merge(inputs []Input, cols Columns) (*Dataset, []diag.Diagnostic, error) {
	var ds []diag.Diagnostic

	var union []string
	seen := map[string]bool{}
	total := 0
	tsAnywhere := false
	for _, in := range inputs {
		total += in.Table.Len()
		for _, c := range in.Table.Columns {
			if !seen[c] {
				seen[c] = true
				union = append(union, c)
			}
			if c == cols.Timestamp {
				tsAnywhere = true
			}
		}
	}
	if len(union) == 0 || total == 0 {
		return nil, nil, ErrEmptyDataset
	}

	order := columnOrder(union, cols)
	out := table.New("merged", order)
	origin := make([]string, 0, total)
	times := make([]time.Time, 0, total)
	tsPos := out.ColumnIndex(cols.Timestamp)

	for _, in := range inputs {
		pos := make([]int, len(order))
		idx := in.Table.Index()
		for i, c := range order {
			if p, ok := idx[c]; ok {
				pos[i] = p
			} else {
				pos[i] = -1
			}
		}
		dropped := 0
		for _, r := range in.Table.Rows {
			nr := make([]any, len(order))
			for i, p := range pos {
				if p >= 0 && p < len(r) {
					nr[i] = r[p]
				}
			}
			var ts time.Time
			if tsAnywhere {
				t, ok := ParseTimestamp(nr[tsPos])
				if !ok {
					dropped++
					continue
				}
				ts = t
				nr[tsPos] = t
			}
			out.Rows = append(out.Rows, nr)
			origin = append(origin, in.Source)
			times = append(times, ts)
		}
		if dropped > 0 {
			ds = append(ds, warnf(diag.StageMerge, in.Source, "%d of %d rows removed: unparseable %s", dropped, in.Table.Len(), cols.Timestamp))
		}
	}
	if !tsAnywhere {
		ds = append(ds, infof(diag.StageMerge, "", "no input has a %s column; rows kept in input order", cols.Timestamp))
	}

	if tsAnywhere {
		perm := make([]int, len(out.Rows))
		for i := range perm {
			perm[i] = i
		}
		sort.SliceStable(perm, func(a, b int) bool { return times[perm[a]].Before(times[perm[b]]) })
		rows := make([][]any, len(perm))
		o := make([]string, len(perm))
		tt := make([]time.Time, len(perm))
		for i, p := range perm {
			rows[i], o[i], tt[i] = out.Rows[p], origin[p], times[p]
		}
		out.Rows, origin, times = rows, o, tt
	}

	d := &Dataset{Table: out, Origin: origin, Time: times, Cols: cols, InputRows: total}
	d.pos = out.Index()
	d.index = question.NewKeyIndex(order)
	return d, ds, nil
}

// columnOrder sorts labels naturally, moving the row id to the front and the
// timestamp to the end.
func columnOrder(union []string, cols Columns) []string {
	var body []string
	hasID, hasTS := false, false
	for _, c := range union {
		switch c {
		case cols.RowID:
			hasID = true
		case cols.Timestamp:
			hasTS = true
		default:
			body = append(body, c)
		}
	}
	table.SortNatural(body)
	out := make([]string, 0, len(union))
	if hasID {
		out = append(out, cols.RowID)
	}
	out = append(out, body...)
	if hasTS {
		out = append(out, cols.Timestamp)
	}
	return out
}
