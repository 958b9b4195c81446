// Package builtin contains small, reusable row helpers used by the loaders.
package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// nilMarker stands in for a missing value so it never collides with "".
const nilMarker = "\x00"

// Hash fingerprints a response row from an ordered list of named values.
// The SQL export keys response rows on it, so reloading a run is idempotent
// even when (source, NO) has blanks.
//
// Values are written in Fields order, joined by Separator (default ASCII unit
// separator). Times are written as UTC RFC3339Nano. The result is 64 lowercase
// hex characters.
type Hash struct {
	Fields []string

	// IncludeFieldNames prefixes each value with "field=".
	IncludeFieldNames bool

	Separator string

	// TrimSpace trims string values, full-width spaces included.
	TrimSpace bool
}

// Sum hashes values aligned with h.Fields. Extra values are ignored and
// missing ones count as nil.
func (h Hash) Sum(values []any) string {
	sep := h.Separator
	if sep == "" {
		sep = "\x1f"
	}
	d := sha256.New()
	for i, f := range h.Fields {
		if i > 0 {
			io.WriteString(d, sep)
		}
		if h.IncludeFieldNames {
			io.WriteString(d, f+"=")
		}
		var v any
		if i < len(values) {
			v = values[i]
		}
		io.WriteString(d, h.canonical(v))
	}
	return hex.EncodeToString(d.Sum(nil))
}

func (h Hash) canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return nilMarker
	case string:
		return h.trim(t)
	case []byte:
		return h.trim(string(t))
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		if !t.IsZero() {
			t = t.UTC()
		}
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func (h Hash) trim(s string) string {
	if h.TrimSpace && HasEdgeSpace(s) {
		return strings.TrimSpace(s)
	}
	return s
}

// HasEdgeSpace reports whether s starts or ends with whitespace, the
// ideographic space included. Callers use it to skip strings.TrimSpace on
// clean cells.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return edge(s[0]) || edge(s[len(s)-1]) ||
		strings.HasPrefix(s, "　") || strings.HasSuffix(s, "　")
}

func edge(c byte) bool {
	return c == ' ' || ('\t' <= c && c <= '\r')
}
