package aggregate

import (
	"surveyagg/internal/diag"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

// MetaRow documents one question of an extract in the code scheme used.
type MetaRow struct {
	Code      string
	Condition string
	Text      string
	Type      string
	// Source is the source whose code and definition were used.
	Source string
}

// Extract is a recipient's final table plus its documentation.
type Extract struct {
	Recipient string
	// Scheme is the requested scheme after resolution: a source name or
	// SchemeFirstAppearance.
	Scheme string
	// Base is the master's ordering source.
	Base  string
	Table *table.Table
	Meta  []MetaRow
}

// Reencode relabels a selection from canonical texts to codes. With a source
// scheme, a question takes that source's code when the source defines it and
// otherwise the code of its first-appearance source. Suffixes are kept, the
// longest text prefix wins, and labels that are not question columns are left
// alone.
func Reencode(sel *Selection, m *question.Master) (*Extract, []diag.Diagnostic) {
	var ds []diag.Diagnostic
	name := sel.Recipient.Name

	preferred := ""
	switch s := sel.Recipient.Scheme; s {
	case "", SchemeFirstAppearance:
	case SchemeBase:
		preferred = m.Base()
	default:
		if m.CodeIndex(s) != nil {
			preferred = s
		} else {
			ds = append(ds, warnf(diag.StageReencode, name, "code scheme %q is not a contributing source; using first appearance", s))
		}
	}

	type choice struct {
		code, source string
	}
	chosen := make(map[string]choice, m.Len())
	textCode := make(map[string]string, m.Len())
	for i := 0; i < m.Len(); i++ {
		e := m.Entry(i)
		src := e.FirstSource
		if preferred != "" {
			if _, ok := e.Code(preferred); ok {
				src = preferred
			}
		}
		code, _ := e.Code(src)
		chosen[e.Text] = choice{code: code, source: src}
		textCode[e.Text] = code
	}
	ix := question.NewPrefixIndex(textCode)

	cols := make([]string, len(sel.Table.Columns))
	used := make(map[string]bool, len(cols))
	var meta []MetaRow
	documented := map[string]bool{}
	var collided []string
	for i, label := range sel.Table.Columns {
		next := label
		text, code, suffix, ok := ix.Resolve(label)
		if ok {
			next = code + suffix
			if used[next] {
				collided = append(collided, label)
				next = label
			}
			if !documented[text] {
				documented[text] = true
				c := chosen[text]
				e, _ := m.Lookup(text)
				def, _ := e.Definition(c.source)
				meta = append(meta, MetaRow{Code: c.code, Condition: def.Condition, Text: text, Type: def.Type, Source: c.source})
			}
		}
		next = unique(next, used)
		used[next] = true
		cols[i] = next
	}
	if len(collided) > 0 {
		ds = append(ds, warnf(diag.StageReencode, name, "columns %s share a code with another question; text labels kept", sample(collided, 5)))
	}

	t, _ := sel.Table.WithColumns(cols)
	scheme := preferred
	if scheme == "" {
		scheme = SchemeFirstAppearance
	}
	return &Extract{Recipient: name, Scheme: scheme, Base: m.Base(), Table: t, Meta: meta}, ds
}
