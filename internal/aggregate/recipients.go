package aggregate

import (
	"sort"
	"strings"
)

// Scheme values understood by Reencode besides a source name.
const (
	SchemeFirstAppearance = "first_appearance"
	SchemeBase            = "base"
)

// Declaration is one (recipient, question text) row of the settings sheet.
type Declaration struct {
	Recipient string
	Text      string
}

// Recipient is a named selection of question texts and the code scheme its
// extract is re-encoded into.
type Recipient struct {
	Name   string
	Texts  []string
	Scheme string
}

// GroupRecipients groups declarations by recipient name (sorted). Each
// recipient's texts are the baseline followed by its declared texts, with
// duplicates removed in first-seen order. Rows with a blank name or text are
// ignored. Names are trimmed, texts kept verbatim. schemes overrides
// defaultScheme per recipient.
func GroupRecipients(decls []Declaration, baseline []string, schemes map[string]string, defaultScheme string) []Recipient {
	byName := map[string][]string{}
	var names []string
	for _, d := range decls {
		name := strings.TrimSpace(d.Recipient)
		text := d.Text
		if name == "" || strings.TrimSpace(text) == "" {
			continue
		}
		if _, ok := byName[name]; !ok {
			names = append(names, name)
		}
		byName[name] = append(byName[name], text)
	}
	sort.Strings(names)

	out := make([]Recipient, 0, len(names))
	for _, name := range names {
		scheme := defaultScheme
		if s, ok := schemes[name]; ok && s != "" {
			scheme = s
		}
		out = append(out, Recipient{
			Name:   name,
			Texts:  dedupeTexts(baseline, byName[name]),
			Scheme: scheme,
		})
	}
	return out
}

func dedupeTexts(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, t := range l {
			if strings.TrimSpace(t) == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
