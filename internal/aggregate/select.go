package aggregate

import (
	"fmt"
	"strings"

	"surveyagg/internal/diag"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

// Selection is the projection of the dataset for one recipient, still
// labelled with canonical texts.
type Selection struct {
	Recipient Recipient
	Table     *table.Table
	// Matched lists the selected texts that produced at least one column,
	// in selection order; Unmatched the rest.
	Matched   []string
	Unmatched []string
}

// Select projects d to the recipient's texts: each text contributes the
// column equal to it and every column starting with text + "_", in dataset
// order. The row id leads and the timestamp trails. When m is non-nil, texts
// are canonicalized through its identity policy and unmatched texts get
// near-miss suggestions. Select fails with ErrNoColumnsSelected when nothing
// matched.
func Select(d *Dataset, r Recipient, m *question.Master) (*Selection, []diag.Diagnostic, error) {
	var ds []diag.Diagnostic
	sel := &Selection{Recipient: r}

	var picked []string
	seen := map[string]bool{d.Cols.RowID: true, d.Cols.Timestamp: true}
	for _, text := range r.Texts {
		canon := text
		if m != nil {
			canon = m.Canonical(text)
		}
		fam := d.Family(canon)
		if len(fam) == 0 {
			sel.Unmatched = append(sel.Unmatched, text)
			continue
		}
		sel.Matched = append(sel.Matched, text)
		for _, c := range fam {
			if !seen[c] {
				seen[c] = true
				picked = append(picked, c)
			}
		}
	}

	if len(sel.Unmatched) > 0 {
		ds = append(ds, unmatchedDiagnostic(r.Name, sel.Unmatched, m))
	}
	if len(picked) == 0 {
		return nil, ds, fmt.Errorf("%w: recipient %q", ErrNoColumnsSelected, r.Name)
	}

	cols := make([]string, 0, len(picked)+2)
	if d.Has(d.Cols.RowID) {
		cols = append(cols, d.Cols.RowID)
	}
	cols = append(cols, picked...)
	if d.Has(d.Cols.Timestamp) {
		cols = append(cols, d.Cols.Timestamp)
	}
	sel.Table = d.Table.Project(cols)
	sel.Table.Name = r.Name
	return sel, ds, nil
}

func unmatchedDiagnostic(recipient string, texts []string, m *question.Master) diag.Diagnostic {
	var b strings.Builder
	fmt.Fprintf(&b, "%d selected texts match no column", len(texts))
	for _, t := range texts {
		fmt.Fprintf(&b, "; %q", t)
		if m == nil {
			continue
		}
		if sug := question.Suggest(t, m.Texts(), 3, question.DefaultCutoff); len(sug) > 0 {
			b.WriteString(" (did you mean")
			for i, s := range sug {
				if i > 0 {
					b.WriteByte(',')
				}
				fmt.Fprintf(&b, " %q", s.Text)
			}
			b.WriteByte(')')
		}
	}
	return warnf(diag.StageSelect, recipient, "%s", b.String())
}
