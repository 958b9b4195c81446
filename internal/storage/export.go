package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
	"surveyagg/internal/transformer/builtin"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 500

// Logger is the Printf subset used for progress lines.
type Logger interface {
	Printf(format string, v ...any)
}

// Exporter writes one run's results through a Repository. All rows carry
// RunID, and every table dedupes on a key that includes it, so re-exporting
// the same run inserts nothing new.
type Exporter struct {
	Repo      Repository
	RunID     string
	Schema    string
	BatchSize int
	Logger    Logger
}

// Stats counts rows offered and inserted per table.
type Stats struct {
	Table    string
	Offered  int
	Inserted int64
}

// responseHash fingerprints a dataset row within its source.
var responseHash = builtin.Hash{
	Fields:    []string{"source", "row_no", "answered_at", "ordinal"},
	TrimSpace: true,
}

// Ensure creates the export tables.
func (e *Exporter) Ensure(ctx context.Context) error {
	if err := e.Repo.EnsureTables(ctx, SurveyTables(e.Schema)); err != nil {
		return fmt.Errorf("storage: ensure tables: %w", err)
	}
	return nil
}

func (e *Exporter) spec(name string) TableSpec {
	for _, t := range SurveyTables(e.Schema) {
		if t.Name == Qualify(e.Schema, name) {
			return t
		}
	}
	panic("storage: unknown table " + name)
}

// ExportMaster writes one row per (question, contributing source).
func (e *Exporter) ExportMaster(ctx context.Context, m *question.Master) (Stats, error) {
	spec := e.spec(MasterTable)
	var rows [][]any
	for i := 0; i < m.Len(); i++ {
		en := m.Entry(i)
		for _, src := range m.Sources() {
			code, ok := en.Code(src)
			if !ok {
				continue
			}
			rows = append(rows, []any{e.RunID, i + 1, en.Text, en.FirstSource, src, code})
		}
	}
	return e.insert(ctx, spec, rows)
}

// ExportDataset writes every non-blank cell of the merged dataset. The row
// id and timestamp columns are promoted to row_no and answered_at and not
// repeated as cells.
func (e *Exporter) ExportDataset(ctx context.Context, d *aggregate.Dataset) (Stats, error) {
	spec := e.spec(ResponsesTable)
	t := d.Table
	idIdx := t.ColumnIndex(d.Cols.RowID)
	tsIdx := t.ColumnIndex(d.Cols.Timestamp)

	ordinal := map[string]int{}
	var rows [][]any
	for r, row := range t.Rows {
		src := d.Origin[r]
		ordinal[src]++

		var rowNo any
		if idIdx >= 0 {
			if s := table.CellString(row[idIdx]); s != "" {
				rowNo = s
			}
		}
		var at any
		if ts := d.Time[r]; !ts.IsZero() {
			at = ts.UTC()
		}
		hash := responseHash.Sum([]any{src, rowNo, at, ordinal[src]})

		for c, v := range row {
			if c == idIdx || c == tsIdx {
				continue
			}
			s, ok := cellText(v)
			if !ok {
				continue
			}
			rows = append(rows, []any{e.RunID, hash, src, rowNo, at, c, t.Columns[c], s})
		}
	}
	return e.insert(ctx, spec, rows)
}

// ExportExtract writes the column layout of a recipient extract, with the
// documented question behind each coded column.
func (e *Exporter) ExportExtract(ctx context.Context, x *aggregate.Extract) (Stats, error) {
	spec := e.spec(ExtractsTable)

	byCode := make(map[string]string, len(x.Meta))
	for i, mr := range x.Meta {
		if mr.Code != "" {
			byCode[mr.Code] = strconv.Itoa(i)
		}
	}
	ix := question.NewPrefixIndex(byCode)

	rows := make([][]any, 0, len(x.Table.Columns))
	for pos, label := range x.Table.Columns {
		var text, src any
		if _, v, _, ok := ix.Resolve(label); ok {
			i, _ := strconv.Atoi(v)
			text, src = x.Meta[i].Text, x.Meta[i].Source
		}
		rows = append(rows, []any{e.RunID, x.Recipient, x.Scheme, pos, label, text, src})
	}
	return e.insert(ctx, spec, rows)
}

func (e *Exporter) insert(ctx context.Context, spec TableSpec, rows [][]any) (Stats, error) {
	st := Stats{Table: spec.Name, Offered: len(rows)}
	size := e.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	cols := spec.ColumnNames()
	start := time.Now()
	for lo := 0; lo < len(rows); lo += size {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		hi := min(lo+size, len(rows))
		n, err := e.Repo.InsertRows(ctx, spec.Name, cols, rows[lo:hi], spec.Dedupe)
		if err != nil {
			return st, fmt.Errorf("storage: insert %s rows %d-%d: %w", spec.Name, lo, hi, err)
		}
		st.Inserted += n
	}
	if e.Logger != nil {
		e.Logger.Printf("stage=store table=%s offered=%d inserted=%d durMS=%d",
			spec.Name, st.Offered, st.Inserted, time.Since(start).Milliseconds())
	}
	return st, nil
}
