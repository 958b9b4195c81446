// Package workbook reads survey exports (xlsx workbooks, HTML-table "xls"
// exports, directories of CSV sheets) into tables and writes the master,
// merged dataset and recipient extracts as xlsx.
package workbook

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"surveyagg/internal/table"
)

var (
	// ErrSheetNotFound is returned when a book has no sheet of that name.
	ErrSheetNotFound = errors.New("workbook: sheet not found")
	// ErrNoHeader is returned when a sheet ends before its header row.
	ErrNoHeader = errors.New("workbook: header row missing")
)

// Book is a set of named sheets.
type Book interface {
	Name() string
	SheetNames() []string
	// Table returns sheet with labels taken from the 1-based headerRow;
	// rows above the header are skipped.
	Table(ctx context.Context, sheet string, headerRow int) (*table.Table, error)
	Close() error
}

// Format names accepted by Open.
const (
	FormatAuto = "auto"
	FormatXLSX = "xlsx"
	FormatHTML = "html"
	FormatCSV  = "csv"
)

// Open reads a single-file book. FormatAuto sniffs the content: a zip
// container is xlsx, markup is HTML.
func Open(name, format string, r io.Reader) (Book, error) {
	br := bufio.NewReader(r)
	if format == "" || format == FormatAuto {
		format = sniff(br)
	}
	switch format {
	case FormatXLSX:
		return OpenXLSX(name, br)
	case FormatHTML:
		return OpenHTML(name, br)
	}
	return nil, fmt.Errorf("workbook %s: unsupported format %q", name, format)
}

func sniff(br *bufio.Reader) string {
	head, _ := br.Peek(512)
	if bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf")), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return FormatHTML
	}
	return ""
}

// FormatOf guesses a format from a file name.
func FormatOf(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".htm", ".html":
		return FormatHTML
	case ".csv", ".tsv":
		return FormatCSV
	}
	return FormatAuto
}

// gridTable turns a rectangular-ish grid of strings into a table. Header
// labels are trimmed; blank labels inside the header become "Unnamed: <i>"
// and trailing blank labels are dropped. Blank rows are skipped, blank
// cells become nil and other cells are kept verbatim.
func gridTable(name string, grid [][]string, headerRow int) (*table.Table, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	if len(grid) < headerRow {
		return nil, fmt.Errorf("%s: %w (row %d)", name, ErrNoHeader, headerRow)
	}
	raw := grid[headerRow-1]
	n := len(raw)
	for n > 0 && strings.TrimSpace(raw[n-1]) == "" {
		n--
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w (row %d is blank)", name, ErrNoHeader, headerRow)
	}
	hdr := make([]string, n)
	for i := 0; i < n; i++ {
		h := strings.TrimSpace(strings.TrimPrefix(raw[i], "\uFEFF"))
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		hdr[i] = h
	}

	t := table.New(name, hdr)
	for _, rec := range grid[headerRow:] {
		row := make([]any, n)
		empty := true
		for i := 0; i < n && i < len(rec); i++ {
			v := rec[i]
			if strings.TrimSpace(v) == "" {
				continue
			}
			row[i] = v
			empty = false
		}
		if !empty {
			t.Append(row)
		}
	}
	return t, nil
}
