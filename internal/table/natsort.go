package table

import (
	"sort"
	"strings"
)

// NaturalLess orders labels so that embedded decimal numbers compare by value:
// "Q-011_2" < "Q-011_10". Non-digit runs compare bytewise. Labels that are
// equal under this order (e.g. "Q-01" and "Q-1") fall back to a plain string
// comparison so the order is total.
func NaturalLess(a, b string) bool {
	if c := naturalCompare(a, b); c != 0 {
		return c < 0
	}
	return a < b
}

func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		ra, restA, numA := nextRun(a)
		rb, restB, numB := nextRun(b)

		var c int
		switch {
		case numA && numB:
			c = compareDigits(ra, rb)
		case numA != numB:
			// Digit runs sort before text runs at the same position.
			if numA {
				c = -1
			} else {
				c = 1
			}
		default:
			c = strings.Compare(ra, rb)
		}
		if c != 0 {
			return c
		}
		a, b = restA, restB
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// nextRun splits s into its leading run of digits or non-digits.
func nextRun(s string) (run, rest string, numeric bool) {
	numeric = isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == numeric {
		i++
	}
	return s[:i], s[i:], numeric
}

func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// SortNatural sorts labels in place with NaturalLess.
func SortNatural(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool { return NaturalLess(labels[i], labels[j]) })
}
