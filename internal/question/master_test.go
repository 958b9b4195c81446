package question

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"surveyagg/internal/diag"
)

func defs(source string, pairs ...string) SourceDefinitions {
	sd := SourceDefinitions{Source: source}
	for i := 0; i+1 < len(pairs); i += 2 {
		sd.Rows = append(sd.Rows, Definition{Code: pairs[i], Text: pairs[i+1]})
	}
	return sd
}

func TestBuild_AgeAcrossSources(t *testing.T) {
	m, ds, err := Build([]SourceDefinitions{
		defs("B.xlsx", "Q-A1", "Age?"),
		defs("A.xlsx", "Q-1", "Age?"),
	}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("unexpected diagnostics: %v", ds)
	}
	if m.Base() != "A.xlsx" {
		t.Fatalf("base=%q want A.xlsx", m.Base())
	}
	want := [][]string{{"Age?", "A.xlsx", "Q-1", "Q-A1"}}
	if diff := cmp.Diff(want, m.Rows()); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"question_text", "first_source", "A.xlsx_code", "B.xlsx_code"}, m.Header()); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_OrderBaseThenLexicographic(t *testing.T) {
	m, _, err := Build([]SourceDefinitions{
		defs("a", "Q-2", "Zeta", "Q-1", "Mid"),
		defs("b", "Q-9", "Beta", "Q-8", "Alpha", "Q-7", "Zeta"),
	}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"Zeta", "Mid", "Alpha", "Beta"}
	if diff := cmp.Diff(want, m.Texts()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	e, ok := m.Lookup("Alpha")
	if !ok || e.FirstSource != "b" {
		t.Fatalf("Alpha first source=%q ok=%v", e.FirstSource, ok)
	}
}

func TestBuild_BaseSourceOverride(t *testing.T) {
	m, ds, err := Build([]SourceDefinitions{
		defs("a", "Q-1", "One", "Q-2", "Two"),
		defs("b", "Q-2", "Two", "Q-3", "Three"),
	}, Options{BaseSource: "b"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("diagnostics: %v", ds)
	}
	if diff := cmp.Diff([]string{"Two", "Three", "One"}, m.Texts()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	_, ds, err = Build([]SourceDefinitions{defs("a", "Q-1", "One")}, Options{BaseSource: "zzz"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ds) != 1 || ds[0].Severity != diag.Warn {
		t.Fatalf("expected one warning for unknown base, got %v", ds)
	}
}

func TestBuild_FirstWinsPerSource(t *testing.T) {
	m, ds, err := Build([]SourceDefinitions{
		defs("a", "Q-1", "Age?", "Q-9", "Age?"),
	}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	e, _ := m.Lookup("Age?")
	if c, _ := e.Code("a"); c != "Q-1" {
		t.Fatalf("code=%q want Q-1", c)
	}
	if len(ds) != 1 {
		t.Fatalf("want one duplicate warning, got %v", ds)
	}
}

func TestBuild_ReusedCodeKeepsFirstText(t *testing.T) {
	m, ds, err := Build([]SourceDefinitions{
		defs("a", "Q-1", "Age?", "Q-1", "Gender?"),
	}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"Age?"}, m.Texts()); diff != "" {
		t.Fatalf("texts (-want +got):\n%s", diff)
	}
	if len(ds) != 1 || ds[0].Severity != diag.Warn || ds[0].Stage != diag.StageMaster {
		t.Fatalf("want one master warning, got %v", ds)
	}
}

func TestBuild_FiltersCodesAndExcludesEmptySources(t *testing.T) {
	m, ds, err := Build([]SourceDefinitions{
		defs("a", "NO", "row id", "Q-1", "One", "X-2", "Other", "Q-3", "  "),
		defs("b", "note", "nothing here"),
	}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"One"}, m.Texts()); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, m.Sources()); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	if len(ds) != 1 || ds[0].Subject != "b" {
		t.Fatalf("want exclusion diagnostic for b, got %v", ds)
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, _, err := Build(nil, Options{}); !errors.Is(err, ErrNoSources) {
		t.Fatalf("err=%v want ErrNoSources", err)
	}
	_, _, err := Build([]SourceDefinitions{defs("a", "x", "y")}, Options{})
	if !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("err=%v want ErrNoQuestions", err)
	}
	if _, _, err := Build([]SourceDefinitions{defs("a", "Q-1", "y")}, Options{Identity: "fuzzy"}); err == nil {
		t.Fatalf("expected error for unknown identity")
	}
}

func TestBuild_CustomPattern(t *testing.T) {
	f, err := NewCodeFilter(`^S\d+$`)
	if err != nil {
		t.Fatal(err)
	}
	m, _, err := Build([]SourceDefinitions{defs("a", "S1", "One", "Q-1", "Two")}, Options{Filter: f})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"One"}, m.Texts()); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_NormalizedIdentityMergesVariants(t *testing.T) {
	m, _, err := Build([]SourceDefinitions{
		defs("a", "Q-1", "年齢 を 教えて"),
		defs("b", "Q-A1", "年齢　を  教えて "),
		defs("c", "Q-Z", "Ａｇｅ？"),
		defs("d", "Q-Y", "Age?"),
	}, Options{Identity: Normalized})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("len=%d want 2: %v", m.Len(), m.Rows())
	}
	e, ok := m.Lookup("年齢 を 教えて")
	if !ok {
		t.Fatalf("lookup failed")
	}
	if c, _ := e.Code("b"); c != "Q-A1" {
		t.Fatalf("b code=%q want Q-A1", c)
	}
	if got := m.Canonical("Age?"); got != "Ａｇｅ？" {
		t.Fatalf("canonical=%q want first-seen literal", got)
	}

	exact, _, err := Build([]SourceDefinitions{defs("c", "Q-Z", "Ａｇｅ？"), defs("d", "Q-Y", "Age?")}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if exact.Len() != 2 {
		t.Fatalf("exact identity must keep variants apart, len=%d", exact.Len())
	}
}

func TestBuild_ExactIdentityKeepsWhitespaceVariants(t *testing.T) {
	srcs := []SourceDefinitions{
		defs("a", " Q-1 ", "Age? "),
		defs("b", "Q-A1", "Age?"),
	}
	exact, _, err := Build(srcs, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"Age? ", "Age?"}, exact.Texts()); diff != "" {
		t.Fatalf("exact texts (-want +got):\n%s", diff)
	}
	if e, ok := exact.Lookup("Age? "); !ok {
		t.Fatalf("verbatim text not found")
	} else if c, _ := e.Code("a"); c != "Q-1" {
		t.Fatalf("code=%q want trimmed Q-1", c)
	}

	norm, _, err := Build(srcs, Options{Identity: Normalized})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"Age? "}, norm.Texts()); diff != "" {
		t.Fatalf("normalized texts (-want +got):\n%s", diff)
	}
}

func TestBuild_NoQuestionLoss(t *testing.T) {
	in := []SourceDefinitions{
		defs("s1", "Q-1", "a", "Q-2", "b", "Q-3", "c"),
		defs("s2", "Q-10", "c", "Q-11", "d"),
		defs("s3", "Q-20", "e", "Q-21", "a"),
	}
	m, _, err := Build(in, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, sd := range in {
		ix := m.CodeIndex(sd.Source)
		for _, d := range sd.Rows {
			if _, ok := m.Lookup(d.Text); !ok {
				t.Fatalf("text %q missing from master", d.Text)
			}
			if got, ok := ix.Get(d.Code); !ok || got != d.Text {
				t.Fatalf("%s %s -> %q (ok=%v) want %q", sd.Source, d.Code, got, ok, d.Text)
			}
		}
	}
}
