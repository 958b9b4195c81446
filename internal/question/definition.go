package question

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoSources is returned when a master is requested for zero sources.
	ErrNoSources = errors.New("question: no sources")
	// ErrNoQuestions is returned when no source contributed a valid definition.
	ErrNoQuestions = errors.New("question: no valid question definitions")
)

// DefaultCodePattern recognizes question codes such as Q-1, Q-007 or Q-A1.
const DefaultCodePattern = `^Q-[0-9A-Za-z]+`

// Definition is one row of a source's question definition sheet. Condition
// and Type are carried verbatim for extract documentation.
type Definition struct {
	Code      string
	Text      string
	Condition string
	Type      string
}

// SourceDefinitions holds the definition rows of one source in sheet order.
type SourceDefinitions struct {
	Source string
	Rows   []Definition
}

// CodeFilter reports whether a definition code is a recognized question code.
type CodeFilter struct {
	re *regexp.Regexp
}

// NewCodeFilter compiles pattern; an empty pattern uses DefaultCodePattern.
func NewCodeFilter(pattern string) (CodeFilter, error) {
	if pattern == "" {
		pattern = DefaultCodePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return CodeFilter{}, err
	}
	return CodeFilter{re: re}, nil
}

// Match reports whether code is recognized.
func (f CodeFilter) Match(code string) bool {
	if f.re == nil {
		f = defaultFilter
	}
	return f.re.MatchString(code)
}

var defaultFilter = CodeFilter{re: regexp.MustCompile(DefaultCodePattern)}

// Valid returns the rows whose code matches f and whose text is not blank.
// Codes are trimmed; texts are kept byte for byte, since under the exact
// identity policy "Age? " and "Age?" are different questions.
func (f CodeFilter) Valid(rows []Definition) []Definition {
	out := make([]Definition, 0, len(rows))
	for _, d := range rows {
		d.Code = strings.TrimSpace(d.Code)
		if strings.TrimSpace(d.Text) == "" || !f.Match(d.Code) {
			continue
		}
		out = append(out, d)
	}
	return out
}
