package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted document path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var knownFormats = map[string]bool{"": true, "xlsx": true, "html": true, "csv": true}

var knownStorage = map[string]bool{"postgres": true, "sqlite": true, "mssql": true}

// ValidatePipeline checks a defaulted pipeline document. It never stops at the
// first problem so a user sees every issue in one pass.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.Sources.Location) == "" {
		add(SeverityError, "sources.location", "is required")
	}
	if !knownFormats[strings.ToLower(p.Sources.Format)] {
		add(SeverityError, "sources.format", "unknown format %q (want xlsx, html or csv)", p.Sources.Format)
	}
	if _, err := regexp.Compile(p.Sources.CodePattern); err != nil {
		add(SeverityError, "sources.code_pattern", "invalid regular expression: %v", err)
	}
	if p.Sources.HeaderRow <= 0 {
		add(SeverityError, "sources.header_row", "must be >= 1")
	}
	if p.Sources.RowIDColumn == p.Sources.TimestampColumn {
		add(SeverityError, "sources.timestamp_column", "must differ from row_id_column")
	}
	seen := map[string]bool{}
	for i, f := range p.Sources.Files {
		if seen[f] {
			add(SeverityWarning, fmt.Sprintf("sources.files[%d]", i), "duplicate file %q", f)
		}
		seen[f] = true
	}

	switch p.Identity.Match {
	case MatchExact, MatchNormalized:
	default:
		add(SeverityError, "identity.match", "unknown match policy %q (want exact or normalized)", p.Identity.Match)
	}

	if strings.TrimSpace(p.Recipients.Declarations) == "" {
		add(SeverityWarning, "recipients.declarations", "not set; only the question master and merged dataset are produced")
	}
	for i, b := range p.Recipients.Baseline {
		if strings.TrimSpace(b) == "" {
			add(SeverityError, fmt.Sprintf("recipients.baseline[%d]", i), "empty question text")
		}
	}
	for name, scheme := range p.Recipients.Schemes {
		if strings.TrimSpace(scheme) == "" {
			add(SeverityError, "recipients.schemes."+name, "empty scheme")
		}
	}

	if strings.TrimSpace(p.Outputs.Location) == "" {
		add(SeverityError, "outputs.location", "is required")
	}
	if st := p.Outputs.Storage; st != nil {
		if !knownStorage[st.Kind] {
			add(SeverityError, "outputs.storage.kind", "unknown storage kind %q", st.Kind)
		}
		if strings.TrimSpace(st.DSN) == "" {
			add(SeverityError, "outputs.storage.dsn", "is required when storage is configured")
		}
	}

	if p.Runtime.RenameWorkers > 64 {
		add(SeverityWarning, "runtime.rename_workers", "%d workers is more than any realistic source count", p.Runtime.RenameWorkers)
	}
	return out
}
