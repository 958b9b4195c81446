package workbook

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"surveyagg/internal/table"
)

type xlsxBook struct {
	name string
	f    *excelize.File
}

// OpenXLSX reads an xlsx workbook. Cell values are read raw, so dates come
// back as Excel serial numbers.
func OpenXLSX(name string, r io.Reader) (Book, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("workbook %s: open xlsx: %w", name, err)
	}
	return &xlsxBook{name: name, f: f}, nil
}

func (b *xlsxBook) Name() string         { return b.name }
func (b *xlsxBook) SheetNames() []string { return b.f.GetSheetList() }
func (b *xlsxBook) Close() error         { return b.f.Close() }

func (b *xlsxBook) Table(ctx context.Context, sheet string, headerRow int) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if idx, _ := b.f.GetSheetIndex(sheet); idx < 0 {
		return nil, fmt.Errorf("%s: %w: %q", b.name, ErrSheetNotFound, sheet)
	}
	grid, err := b.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%s: read sheet %q: %w", b.name, sheet, err)
	}
	return gridTable(b.name, grid, headerRow)
}
