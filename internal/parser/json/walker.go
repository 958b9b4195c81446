package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// walker drives a token-level decode so record arrays are never buffered
// whole.
type walker struct {
	ctx   context.Context
	dec   *json.Decoder
	emit  func(line int, obj map[string]any) error
	onErr func(line int, err error)
	line  int
}

func (w *walker) fail(err error) error {
	if w.onErr != nil {
		w.onErr(w.line+1, err)
	}
	return err
}

func (w *walker) record(obj map[string]any) error {
	w.line++
	return w.emit(w.line, obj)
}

func (w *walker) run() error {
	tok, err := w.dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return w.fail(fmt.Errorf("json: read first token: %w", err))
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		if err := w.array(); err != nil {
			return err
		}
	case '{':
		single, err := w.envelope()
		if err != nil {
			return err
		}
		if single != nil {
			if err := w.record(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}
	return w.trailing()
}

// array emits the objects of an array whose '[' was consumed, and consumes
// the closing ']'.
func (w *walker) array() error {
	for w.dec.More() {
		var raw any
		if err := w.dec.Decode(&raw); err != nil {
			return w.fail(fmt.Errorf("json: decode array element: %w", err))
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return w.fail(fmt.Errorf("json: array element not an object (got %T)", raw))
		}
		if err := w.record(obj); err != nil {
			return err
		}
		if err := w.ctx.Err(); err != nil {
			return err
		}
	}
	return w.expect(']')
}

// envelope walks an object whose '{' was consumed. The first field holding
// an array is streamed as the record list and the rest of the object is
// skipped; when there is no such field the object itself is returned as a
// single record.
func (w *walker) envelope() (map[string]any, error) {
	single := map[string]any{}
	for w.dec.More() {
		kt, err := w.dec.Token()
		if err != nil {
			return nil, w.fail(fmt.Errorf("json: read object key: %w", err))
		}
		key, _ := kt.(string)

		vt, err := w.dec.Token()
		if err != nil {
			return nil, w.fail(fmt.Errorf("json: read object value: %w", err))
		}
		if vt == json.Delim('[') {
			if err := w.array(); err != nil {
				return nil, err
			}
			for w.dec.More() {
				if _, err := w.dec.Token(); err != nil {
					return nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				var discard json.RawMessage
				if err := w.dec.Decode(&discard); err != nil {
					return nil, fmt.Errorf("json: skip envelope value: %w", err)
				}
			}
			return nil, w.expect('}')
		}
		v, err := w.value(vt)
		if err != nil {
			return nil, w.fail(err)
		}
		single[key] = v
	}
	return single, w.expect('}')
}

// value materializes the JSON value whose first token is tok.
func (w *walker) value(tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := map[string]any{}
		for w.dec.More() {
			kt, err := w.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			k, _ := kt.(string)
			vt, err := w.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			v, err := w.value(vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, w.expect('}')
	case '[':
		var arr []any
		for w.dec.More() {
			vt, err := w.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested element: %w", err)
			}
			v, err := w.value(vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, w.expect(']')
	}
	return nil, fmt.Errorf("json: unexpected delimiter %q", d)
}

func (w *walker) expect(d json.Delim) error {
	tok, err := w.dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", d, err)
	}
	if tok != d {
		return fmt.Errorf("json: expected %q, got %v", d, tok)
	}
	return nil
}

// trailing emits JSON-lines objects that follow the root value.
func (w *walker) trailing() error {
	for {
		var obj map[string]any
		if err := w.dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return w.fail(fmt.Errorf("json: decode trailing object: %w", err))
		}
		if err := w.record(obj); err != nil {
			return err
		}
	}
}
