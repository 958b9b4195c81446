// Package csv reads delimited survey exports into tables.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"surveyagg/internal/config"
	"surveyagg/internal/table"
	"surveyagg/internal/transformer"
	"surveyagg/internal/transformer/builtin"
)

// ErrNoHeader is returned when the input ends before the header row.
var ErrNoHeader = errors.New("csv: no header row")

// ReadTable reads a delimited export whose header sits on row header_row
// (1-based physical line, default 1) and returns it as a table named name. Rows above the
// header are skipped; rows that fail to parse are reported through onErr and
// skipped.
//
// Options:
//   - encoding: WHATWG label such as "shift_jis" or "utf-16le" (default utf-8)
//   - comma, lazy_quotes, fields_per_record: encoding/csv knobs
//   - trim_space: trim cell edges (default true)
//   - header_map: rename header labels after trimming
func ReadTable(ctx context.Context, src io.Reader, name string, opt config.Options, onErr func(line int, err error)) (*table.Table, error) {
	r, err := decodeReader(src, opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	}
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	headerRow := opt.Int("header_row", 1)
	if headerRow < 1 {
		headerRow = 1
	}

	var line int
	var hdr []string
	for hdr == nil {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: %w", name, ErrNoHeader)
		}
		if err != nil {
			if pl := errLine(err); pl > 0 && pl < headerRow {
				continue
			}
			return nil, fmt.Errorf("%s: read header: %w", name, err)
		}
		if line, _ = cr.FieldPos(0); line >= headerRow {
			hdr = headerLabels(rec, hm)
		}
	}

	t := table.New(name, hdr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			pl := errLine(err)
			if pl == 0 {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if onErr != nil {
				onErr(pl, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		line, _ = cr.FieldPos(0)
		if blank(rec) {
			continue
		}

		row := transformer.GetRow(len(hdr))
		row.Line = line
		for i := range hdr {
			if i >= len(rec) {
				row.Cells[i] = nil
				continue
			}
			v := rec[i]
			if trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.Cells[i] = nil
			} else {
				row.Cells[i] = v
			}
		}
		t.Append(row.Values())
		row.Release()
	}
}

func headerLabels(rec []string, hm map[string]string) []string {
	out := make([]string, len(rec))
	for i, h := range rec {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if builtin.HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		out[i] = h
	}
	return out
}

// errLine returns the physical line a read error started on, or 0.
func errLine(err error) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.StartLine
	}
	return 0
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// decodeReader wraps src with a decoder for label; "" and utf-8 pass through.
func decodeReader(src io.Reader, label string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return src, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: encoding %q: %w", label, err)
	}
	return transform.NewReader(src, enc.NewDecoder()), nil
}
