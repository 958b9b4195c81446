package workbook

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/config"
	"surveyagg/internal/parser/csv"
	"surveyagg/internal/parser/json"
	"surveyagg/internal/table"
	"surveyagg/internal/transformer"
)

// DeclarationSource describes where recipient declarations live.
type DeclarationSource struct {
	// Name is the file name; its extension picks the reader.
	Name string
	// Sheet is the xlsx/html sheet; empty means the first sheet.
	Sheet          string
	NameColumn     string
	QuestionColumn string
	// Parser options for csv and json readers.
	Options config.Options
}

// ReadDeclarations reads (recipient, question text) rows from r.
func ReadDeclarations(ctx context.Context, r io.Reader, src DeclarationSource) ([]aggregate.Declaration, error) {
	switch ext := strings.ToLower(path.Ext(src.Name)); ext {
	case ".json", ".jsonl", ".ndjson":
		return jsonDeclarations(ctx, r, src)
	case ".csv", ".tsv":
		t, err := csv.ReadTable(ctx, r, src.Name, verbatim(src.Options), nil)
		if err != nil {
			return nil, err
		}
		return tableDeclarations(t, src)
	default:
		b, err := Open(src.Name, FormatAuto, r)
		if err != nil {
			return nil, err
		}
		defer b.Close()
		sheet := src.Sheet
		if sheet == "" {
			names := b.SheetNames()
			if len(names) == 0 {
				return nil, fmt.Errorf("%s: %w", src.Name, ErrSheetNotFound)
			}
			sheet = names[0]
		}
		t, err := b.Table(ctx, sheet, 1)
		if err != nil {
			return nil, err
		}
		return tableDeclarations(t, src)
	}
}

func tableDeclarations(t *table.Table, src DeclarationSource) ([]aggregate.Declaration, error) {
	ni, qi := t.ColumnIndex(src.NameColumn), t.ColumnIndex(src.QuestionColumn)
	if ni < 0 || qi < 0 {
		return nil, fmt.Errorf("%s: need columns %q and %q, have %q", src.Name, src.NameColumn, src.QuestionColumn, t.Columns)
	}
	out := make([]aggregate.Declaration, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, aggregate.Declaration{Recipient: cell(r, ni), Text: cell(r, qi)})
	}
	return out, nil
}

// jsonDeclarations streams records with the question column exploded, so
// {"クライアント名": "A", "集計対象の質問文": ["x", "y"]} yields two rows.
func jsonDeclarations(ctx context.Context, r io.Reader, src DeclarationSource) ([]aggregate.Declaration, error) {
	opt := config.Options{"explode": src.QuestionColumn}
	for k, v := range src.Options {
		opt[k] = v
	}
	cols := []string{src.NameColumn, src.QuestionColumn}
	rows := make(chan *transformer.Row, 64)

	var out []aggregate.Declaration
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		return json.StreamRows(gctx, r, cols, opt, rows, nil)
	})
	g.Go(func() error {
		for row := range rows {
			out = append(out, aggregate.Declaration{Recipient: cell(row.Cells, 0), Text: cell(row.Cells, 1)})
			row.Release()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name, err)
	}
	return out, nil
}
