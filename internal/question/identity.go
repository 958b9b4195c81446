package question

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Identity decides when two question texts denote the same question.
type Identity string

const (
	// Exact compares texts byte for byte.
	Exact Identity = "exact"
	// Normalized compares texts after NFKC, width folding, trimming and
	// collapsing runs of whitespace.
	Normalized Identity = "normalized"
)

// ParseIdentity maps a configuration value to an Identity; "" means Exact.
func ParseIdentity(s string) (Identity, error) {
	switch Identity(strings.ToLower(strings.TrimSpace(s))) {
	case "", Exact:
		return Exact, nil
	case Normalized:
		return Normalized, nil
	}
	return "", fmt.Errorf("question: unknown identity policy %q", s)
}

// Key returns the comparison key of text under the policy.
func (id Identity) Key(text string) string {
	if id != Normalized {
		return text
	}
	return NormalizeText(text)
}

// NormalizeText folds compatibility and width variants and collapses
// whitespace, so "Ａｇｅ?" and " Age  ?" compare equal to "Age ?".
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return strings.Join(strings.Fields(s), " ")
}
