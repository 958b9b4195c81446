package workbook

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"surveyagg/internal/table"
)

// htmlBook is a survey tool "xls" download that is really an HTML page with
// one <table> per sheet.
type htmlBook struct {
	name   string
	order  []string
	sheets map[string][][]string
}

// OpenHTML parses every <table> of the document into a sheet. A sheet is
// named by the table's data-sheet-name attribute, its <caption>, its id, or
// "Sheet<n>" (1-based), in that order of preference.
func OpenHTML(name string, r io.Reader) (Book, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("workbook %s: parse html: %w", name, err)
	}
	b := &htmlBook{name: name, sheets: map[string][][]string{}}
	doc.Find("table").Each(func(i int, tbl *goquery.Selection) {
		if tbl.ParentsFiltered("table").Length() > 0 {
			return
		}
		sheet := sheetName(tbl, i)
		if _, dup := b.sheets[sheet]; dup {
			return
		}
		b.order = append(b.order, sheet)
		b.sheets[sheet] = tableGrid(tbl)
	})
	return b, nil
}

func sheetName(tbl *goquery.Selection, i int) string {
	if v, ok := tbl.Attr("data-sheet-name"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if c := strings.TrimSpace(tbl.ChildrenFiltered("caption").First().Text()); c != "" {
		return c
	}
	if v, ok := tbl.Attr("id"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return "Sheet" + strconv.Itoa(i+1)
}

// tableGrid flattens the rows of tbl, repeating colspan cells so columns
// stay aligned with the header.
func tableGrid(tbl *goquery.Selection) [][]string {
	var grid [][]string
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.ParentsFiltered("table").First().Get(0) != tbl.Get(0) {
			return
		}
		var row []string
		tr.ChildrenFiltered("th,td").Each(func(_ int, cell *goquery.Selection) {
			v := strings.TrimSpace(cell.Text())
			span := 1
			if s, ok := cell.Attr("colspan"); ok {
				if n, err := strconv.Atoi(s); err == nil && n > 1 {
					span = n
				}
			}
			for k := 0; k < span; k++ {
				row = append(row, v)
			}
		})
		grid = append(grid, row)
	})
	return grid
}

func (b *htmlBook) Name() string         { return b.name }
func (b *htmlBook) SheetNames() []string { return append([]string(nil), b.order...) }
func (b *htmlBook) Close() error         { return nil }

func (b *htmlBook) Table(ctx context.Context, sheet string, headerRow int) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	grid, ok := b.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", b.name, ErrSheetNotFound, sheet)
	}
	return gridTable(b.name, grid, headerRow)
}
