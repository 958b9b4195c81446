package question

import (
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// Suggestion is a candidate text close to an unmatched one.
type Suggestion struct {
	Text  string
	Ratio float64
}

// DefaultCutoff is the minimum similarity ratio Suggest reports.
const DefaultCutoff = 0.6

// Suggest returns up to n candidates whose similarity to text is at least
// cutoff, best first. Similarity is computed over runes after normalization,
// so width and spacing differences score as equal.
func Suggest(text string, candidates []string, n int, cutoff float64) []Suggestion {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	a := runeSeq(NormalizeText(text))
	sm := difflib.NewMatcher(nil, nil)
	sm.SetSeq2(a)
	var out []Suggestion
	for _, c := range candidates {
		if c == text {
			continue
		}
		sm.SetSeq1(runeSeq(NormalizeText(c)))
		if sm.RealQuickRatio() < cutoff || sm.QuickRatio() < cutoff {
			continue
		}
		if r := sm.Ratio(); r >= cutoff {
			out = append(out, Suggestion{Text: c, Ratio: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ratio > out[j].Ratio })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func runeSeq(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
