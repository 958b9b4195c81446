package aggregate

import (
	"strconv"

	"surveyagg/internal/diag"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

// Rename relabels the columns of t, a response table of source, from the
// source's question codes to canonical question texts. Suffixes survive:
// with Q-5 -> "Opinion?", column Q-5_3_FA becomes "Opinion?_3_FA". Rows are
// shared with t, not copied.
//
// A source that owns no question in m is excluded: Rename returns a nil table
// and a diagnostic, and the source must not be merged.
func Rename(t *table.Table, source string, m *question.Master, cols Columns) (*table.Table, []diag.Diagnostic) {
	ix := m.CodeIndex(source)
	if ix == nil {
		return nil, []diag.Diagnostic{warnf(diag.StageRename, source,
			"source contributes no question to the master; %d rows excluded from the merge", t.Len())}
	}

	var ds []diag.Diagnostic
	labels, dups := dedupeLabels(t.Columns)
	if len(dups) > 0 {
		ds = append(ds, warnf(diag.StageRename, source, "duplicate column labels %s renamed with .N suffixes", sample(dups, 5)))
	}

	out := make([]string, len(labels))
	used := make(map[string]bool, len(labels))
	var unmapped, collided []string
	for i, label := range labels {
		next := label
		if !cols.structural(label) {
			if _, text, suffix, ok := ix.Resolve(label); ok {
				next = text + suffix
			} else {
				unmapped = append(unmapped, label)
			}
		}
		if used[next] {
			collided = append(collided, label)
			next = label
		}
		next = unique(next, used)
		used[next] = true
		out[i] = next
	}
	if len(unmapped) > 0 {
		ds = append(ds, warnf(diag.StageRename, source, "%d columns match no question code and keep their labels: %s", len(unmapped), sample(unmapped, 5)))
	}
	if len(collided) > 0 {
		ds = append(ds, warnf(diag.StageRename, source, "columns %s would duplicate an existing label; original labels kept", sample(collided, 5)))
	}

	renamed, _ := t.WithColumns(out)
	return renamed, ds
}

// dedupeLabels suffixes repeated labels with ".<occurrence>": the second "A"
// becomes "A.1", the third "A.2". It returns the labels that repeated.
func dedupeLabels(labels []string) ([]string, []string) {
	out := make([]string, len(labels))
	seen := make(map[string]int, len(labels))
	taken := make(map[string]bool, len(labels))
	for _, l := range labels {
		taken[l] = true
	}
	var dups []string
	for i, l := range labels {
		n := seen[l]
		seen[l] = n + 1
		if n == 0 {
			out[i] = l
			continue
		}
		if n == 1 {
			dups = append(dups, l)
		}
		cand := l + "." + strconv.Itoa(n)
		for taken[cand] {
			n++
			cand = l + "." + strconv.Itoa(n)
		}
		taken[cand] = true
		out[i] = cand
	}
	return out, dups
}

func unique(label string, used map[string]bool) string {
	if !used[label] {
		return label
	}
	for n := 1; ; n++ {
		cand := label + "." + strconv.Itoa(n)
		if !used[cand] {
			return cand
		}
	}
}
