package workbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"surveyagg/internal/config"
	"surveyagg/internal/parser/csv"
	"surveyagg/internal/table"
)

// OpenFunc opens one sheet file of a CSV book; it returns an error wrapping
// fs.ErrNotExist when the sheet is absent.
type OpenFunc func(ctx context.Context, sheet string) (io.ReadCloser, error)

type csvBook struct {
	name   string
	sheets []string
	open   OpenFunc
	opt    config.Options
	onErr  func(line int, err error)
}

// NewCSVBook returns a book whose sheets are separate CSV files, as produced
// by exporting each sheet of a workbook. opt is passed to the CSV parser;
// onErr receives malformed lines, which are skipped.
func NewCSVBook(name string, sheets []string, open OpenFunc, opt config.Options, onErr func(line int, err error)) Book {
	return &csvBook{name: name, sheets: append([]string(nil), sheets...), open: open, opt: opt, onErr: onErr}
}

// verbatim copies opt and turns cell trimming off unless trim_space was set
// explicitly; question texts must reach the identity policy unaltered.
func verbatim(opt config.Options) config.Options {
	out := config.Options{"trim_space": false}
	for k, v := range opt {
		out[k] = v
	}
	return out
}

func (b *csvBook) Name() string         { return b.name }
func (b *csvBook) SheetNames() []string { return append([]string(nil), b.sheets...) }
func (b *csvBook) Close() error         { return nil }

func (b *csvBook) Table(ctx context.Context, sheet string, headerRow int) (*table.Table, error) {
	rc, err := b.open(ctx, sheet)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w: %q", b.name, ErrSheetNotFound, sheet)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: open sheet %q: %w", b.name, sheet, err)
	}
	defer rc.Close()

	opt := verbatim(b.opt)
	opt["header_row"] = headerRow
	t, err := csv.ReadTable(ctx, rc, b.name, opt, b.onErr)
	if errors.Is(err, csv.ErrNoHeader) {
		return nil, fmt.Errorf("%s: %w (row %d)", b.name, ErrNoHeader, headerRow)
	}
	return t, err
}
