// Package json streams record objects out of JSON documents: a root array,
// an envelope object holding the first array of objects, a single object, or
// JSON lines following any of those.
package json

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"surveyagg/internal/config"
	"surveyagg/internal/transformer"
)

// StreamRows decodes records from r and sends them to out as rows aligned to
// columns. A column whose value is an array of strings is joined with
// array_join_separator (default ","), unless it is the explode column: then
// one row is emitted per element.
//
// Options:
//   - header_map: source key -> column name
//   - array_join_separator
//   - explode: column to fan out over array elements
func StreamRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	sep := strings.TrimSpace(opt.String("array_join_separator", ","))
	if sep == "" {
		sep = ","
	}
	explode := -1
	if col := opt.String("explode", ""); col != "" {
		for i, c := range columns {
			if c == col {
				explode = i
			}
		}
	}
	keys := sourceKeys(columns, opt.StringMap("header_map"))

	send := func(line int, obj map[string]any) error {
		vals := make([]any, len(columns))
		var fan []string
		for i := range columns {
			v := lookup(obj, keys[i])
			if i == explode {
				if ss, ok := stringArray(v); ok {
					fan = ss
					continue
				}
			}
			vals[i] = flatten(v, sep)
		}
		if explode >= 0 && fan != nil {
			for _, s := range fan {
				row := transformer.GetRow(len(columns))
				copy(row.Cells, vals)
				row.Cells[explode] = s
				row.Line = line
				if err := deliver(ctx, out, row); err != nil {
					return err
				}
			}
			return nil
		}
		row := transformer.GetRow(len(columns))
		copy(row.Cells, vals)
		row.Line = line
		return deliver(ctx, out, row)
	}

	w := &walker{ctx: ctx, dec: json.NewDecoder(r), emit: send, onErr: onParseErr}
	w.dec.UseNumber()
	return w.run()
}

func deliver(ctx context.Context, out chan<- *transformer.Row, row *transformer.Row) error {
	select {
	case out <- row:
		return nil
	case <-ctx.Done():
		row.Discard()
		return ctx.Err()
	}
}

// sourceKeys lists, per column, the keys to try in order: the column itself
// and every source key mapped onto it.
func sourceKeys(columns []string, hm map[string]string) [][]string {
	out := make([][]string, len(columns))
	for i, c := range columns {
		out[i] = []string{c}
	}
	for src, dst := range hm {
		if src == "" || dst == "" {
			continue
		}
		for i, c := range columns {
			if c == dst {
				out[i] = append(out[i], src)
			}
		}
	}
	return out
}

func lookup(obj map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

// stringArray reports whether v is an array holding only strings (nulls skipped).
func stringArray(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		ss = append(ss, s)
	}
	return ss, true
}

func flatten(v any, sep string) any {
	switch t := v.(type) {
	case []any:
		ss, ok := stringArray(t)
		if !ok {
			return v
		}
		return strings.Join(ss, sep)
	case json.Number:
		return t.String()
	default:
		return v
	}
}
