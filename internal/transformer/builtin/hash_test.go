package builtin

import (
	"testing"
	"time"
)

func TestHash_Deterministic_WithTrim(t *testing.T) {
	h := Hash{
		Fields:            []string{"source", "NO", "answered_at"},
		IncludeFieldNames: true,
		TrimSpace:         true,
	}
	at := time.Date(2025, 12, 1, 9, 30, 0, 0, time.UTC)

	s1 := h.Sum([]any{"survey_a", " 17 ", at})
	s2 := h.Sum([]any{"survey_a", "17", at})

	if len(s1) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(s1), s1)
	}
	if s1 != s2 {
		t.Fatalf("expected same hash after trimming; s1=%q s2=%q", s1, s2)
	}
}

func TestHash_ChangesWhenFieldChanges(t *testing.T) {
	h := Hash{Fields: []string{"source", "NO"}, IncludeFieldNames: true}
	if h.Sum([]any{"a", "1"}) == h.Sum([]any{"a", "2"}) {
		t.Fatalf("expected different hashes for different values")
	}
}

func TestHash_NilDiffersFromEmpty(t *testing.T) {
	h := Hash{Fields: []string{"source", "NO"}}
	if h.Sum([]any{"a", nil}) == h.Sum([]any{"a", ""}) {
		t.Fatalf("nil and empty string must hash differently")
	}
	if h.Sum([]any{"a"}) != h.Sum([]any{"a", nil}) {
		t.Fatalf("missing trailing value must hash like nil")
	}
}

func TestHash_TimeIsUTCNormalized(t *testing.T) {
	h := Hash{Fields: []string{"at"}}
	jst := time.FixedZone("JST", 9*3600)
	a := time.Date(2025, 1, 2, 9, 0, 0, 0, jst)
	b := a.UTC()
	if h.Sum([]any{a}) != h.Sum([]any{b}) {
		t.Fatalf("equal instants must hash equally")
	}
}

func TestHasEdgeSpace(t *testing.T) {
	cases := map[string]bool{
		"":        false,
		"abc":     false,
		" abc":    true,
		"abc\t":   true,
		"　a": true,
		"a b":     false,
	}
	for in, want := range cases {
		if got := HasEdgeSpace(in); got != want {
			t.Fatalf("HasEdgeSpace(%q)=%v want %v", in, got, want)
		}
	}
}
