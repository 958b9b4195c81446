package question

import (
	"fmt"
	"sort"

	"surveyagg/internal/diag"
)

// Options control master construction.
type Options struct {
	// Identity policy; "" means Exact.
	Identity Identity
	// BaseSource overrides the ordering source. It must be a contributing
	// source; otherwise the first source is used and a warning is recorded.
	BaseSource string
	// Filter selects recognized question codes. The zero value uses
	// DefaultCodePattern.
	Filter CodeFilter
}

// Entry is one question of the master.
type Entry struct {
	Text        string
	FirstSource string
	// codes and defs are keyed by source name.
	codes map[string]string
	defs  map[string]Definition
}

// Code returns the code the source uses for this question, if any.
func (e Entry) Code(source string) (string, bool) {
	c, ok := e.codes[source]
	return c, ok
}

// Definition returns the definition row the source declared for this
// question, if any.
func (e Entry) Definition(source string) (Definition, bool) {
	d, ok := e.defs[source]
	return d, ok
}

// Master is the canonical question table: one entry per distinct question
// text with each contributing source's code. It is immutable after Build and
// safe for concurrent readers.
type Master struct {
	identity Identity
	sources  []string
	base     string
	entries  []Entry
	byKey    map[string]int
	bySource map[string]*PrefixIndex
}

// Build runs the mapping and ordering stages over defs. Findings that do not
// prevent a master from being built are returned as diagnostics.
func Build(defs []SourceDefinitions, opt Options) (*Master, []diag.Diagnostic, error) {
	if len(defs) == 0 {
		return nil, nil, ErrNoSources
	}
	id, err := ParseIdentity(string(opt.Identity))
	if err != nil {
		return nil, nil, err
	}
	var ds []diag.Diagnostic
	warn := func(subject, format string, args ...any) {
		ds = append(ds, diag.Diagnostic{Severity: diag.Warn, Stage: diag.StageMaster, Subject: subject, Message: fmt.Sprintf(format, args...)})
	}

	ordered := append([]SourceDefinitions(nil), defs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Source < ordered[j].Source })

	m := &Master{identity: id, byKey: map[string]int{}}
	valid := map[string][]Definition{}
	for i, sd := range ordered {
		if i > 0 && sd.Source == ordered[i-1].Source {
			warn(sd.Source, "duplicate source name; later definitions ignored")
			continue
		}
		rows := opt.Filter.Valid(sd.Rows)
		if len(rows) == 0 {
			warn(sd.Source, "no valid question definitions; source excluded")
			continue
		}
		m.sources = append(m.sources, sd.Source)
		valid[sd.Source] = rows
	}
	if len(m.sources) == 0 {
		return nil, ds, ErrNoQuestions
	}

	// Ordered accumulation: sources in sorted order, rows in sheet order,
	// insert-if-absent per (text, source).
	codeText := map[string]map[string]string{}
	for _, src := range m.sources {
		ct := map[string]string{}
		for _, d := range valid[src] {
			k := id.Key(d.Text)
			idx, ok := m.byKey[k]
			if !ok {
				idx = len(m.entries)
				m.byKey[k] = idx
				m.entries = append(m.entries, Entry{
					Text:  d.Text,
					codes: map[string]string{},
					defs:  map[string]Definition{},
				})
			}
			e := &m.entries[idx]
			if prev, dup := e.codes[src]; dup {
				if prev != d.Code {
					warn(src, "text %q defined again as %s; keeping %s", e.Text, d.Code, prev)
				}
				continue
			}
			if prevText, dup := ct[d.Code]; dup {
				warn(src, "code %s reused for %q; keeping %q", d.Code, d.Text, prevText)
				continue
			}
			if e.FirstSource == "" {
				e.FirstSource = src
			}
			e.codes[src] = d.Code
			e.defs[src] = d
			ct[d.Code] = e.Text
		}
		codeText[src] = ct
	}

	m.base = m.sources[0]
	if opt.BaseSource != "" {
		if _, ok := valid[opt.BaseSource]; ok {
			m.base = opt.BaseSource
		} else {
			warn(opt.BaseSource, "configured base source does not contribute questions; using %s", m.base)
		}
	}
	m.order(valid[m.base])

	m.bySource = make(map[string]*PrefixIndex, len(m.sources))
	for src, ct := range codeText {
		m.bySource[src] = NewPrefixIndex(ct)
	}
	return m, ds, nil
}

// order sorts entries: base-source texts in definition order, then the rest
// by text. Entries without any code are dropped.
func (m *Master) order(baseRows []Definition) {
	rank := make(map[int]int, len(baseRows))
	for _, d := range baseRows {
		idx := m.byKey[m.identity.Key(d.Text)]
		if _, seen := rank[idx]; !seen {
			if _, ok := m.entries[idx].codes[m.base]; ok {
				rank[idx] = len(rank)
			}
		}
	}
	perm := make([]int, 0, len(m.entries))
	for i, e := range m.entries {
		if len(e.codes) > 0 {
			perm = append(perm, i)
		}
	}
	sort.SliceStable(perm, func(a, b int) bool {
		ra, inA := rank[perm[a]]
		rb, inB := rank[perm[b]]
		switch {
		case inA && inB:
			return ra < rb
		case inA != inB:
			return inA
		}
		return m.entries[perm[a]].Text < m.entries[perm[b]].Text
	})
	entries := make([]Entry, len(perm))
	byKey := make(map[string]int, len(perm))
	for i, p := range perm {
		entries[i] = m.entries[p]
		byKey[m.identity.Key(entries[i].Text)] = i
	}
	m.entries = entries
	m.byKey = byKey
}

// Identity returns the identity policy the master was built with.
func (m *Master) Identity() Identity { return m.identity }

// Sources returns the contributing sources in sorted order.
func (m *Master) Sources() []string { return append([]string(nil), m.sources...) }

// Base returns the ordering source.
func (m *Master) Base() string { return m.base }

// Len returns the number of questions.
func (m *Master) Len() int { return len(m.entries) }

// Entry returns the i-th question in canonical order.
func (m *Master) Entry(i int) Entry { return m.entries[i] }

// Texts returns the canonical texts in canonical order.
func (m *Master) Texts() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Text
	}
	return out
}

// Lookup finds the entry for text under the master's identity policy.
func (m *Master) Lookup(text string) (Entry, bool) {
	i, ok := m.byKey[m.identity.Key(text)]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Canonical returns the canonical spelling of text, or text itself when the
// master does not know it.
func (m *Master) Canonical(text string) string {
	if e, ok := m.Lookup(text); ok {
		return e.Text
	}
	return text
}

// CodeIndex returns the code -> canonical text index of source, or nil when
// the source did not contribute.
func (m *Master) CodeIndex(source string) *PrefixIndex { return m.bySource[source] }

// Rows renders the master as a table body: question_text, first_source, then
// one code cell per source ("" when undefined). Header returns the matching
// column labels.
func (m *Master) Rows() [][]string {
	out := make([][]string, len(m.entries))
	for i, e := range m.entries {
		row := make([]string, 0, 2+len(m.sources))
		row = append(row, e.Text, e.FirstSource)
		for _, s := range m.sources {
			row = append(row, e.codes[s])
		}
		out[i] = row
	}
	return out
}

// Header returns the column labels for Rows.
func (m *Master) Header() []string {
	h := []string{"question_text", "first_source"}
	for _, s := range m.sources {
		h = append(h, s+"_code")
	}
	return h
}
