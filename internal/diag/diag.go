// Package diag collects the recoverable findings of an aggregation run.
//
// Fatal conditions are returned as errors; everything else (a source without
// a data sheet, a recipient whose selection matched nothing, a column that
// could not be mapped) becomes a Diagnostic so callers get the partial result
// together with an explanation of what was left out.
package diag

import (
	"fmt"
	"sort"
	"sync"
)

// Severity of a diagnostic.
type Severity string

const (
	Info  Severity = "info"
	Warn  Severity = "warn"
	Error Severity = "error"
)

// Stage names used in diagnostics and log lines.
const (
	StageRead     = "read"
	StageMaster   = "master"
	StageRename   = "rename"
	StageMerge    = "merge"
	StageSelect   = "select"
	StageReencode = "reencode"
	StageWrite    = "write"
)

// Diagnostic is one recorded finding. Subject is the source or recipient the
// finding is about; it is empty for run-wide findings.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Stage    string   `json:"stage"`
	Subject  string   `json:"subject,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Subject == "" {
		return fmt.Sprintf("%s stage=%s %s", d.Severity, d.Stage, d.Message)
	}
	return fmt.Sprintf("%s stage=%s subject=%q %s", d.Severity, d.Stage, d.Subject, d.Message)
}

// Collector accumulates diagnostics. The zero value is ready to use and safe
// for concurrent use.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add records a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.mu.Lock()
	c.items = append(c.items, d)
	c.mu.Unlock()
}

// Addf records a formatted diagnostic.
func (c *Collector) Addf(sev Severity, stage, subject, format string, args ...any) {
	c.Add(Diagnostic{Severity: sev, Stage: stage, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// Merge appends all diagnostics of ds.
func (c *Collector) Merge(ds []Diagnostic) {
	if len(ds) == 0 {
		return
	}
	c.mu.Lock()
	c.items = append(c.items, ds...)
	c.mu.Unlock()
}

// Items returns a copy of the recorded diagnostics in insertion order.
func (c *Collector) Items() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.items...)
}

// Count returns how many diagnostics have severity sev.
func (c *Collector) Count(sev Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.items {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Sorted returns diagnostics ordered by stage then subject, keeping insertion
// order within a group. Concurrent stages append in nondeterministic order;
// reports use this for stable output.
func Sorted(ds []Diagnostic) []Diagnostic {
	out := append([]Diagnostic(nil), ds...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return stageRank(out[i].Stage) < stageRank(out[j].Stage)
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

func stageRank(s string) int {
	switch s {
	case StageRead:
		return 0
	case StageMaster:
		return 1
	case StageRename:
		return 2
	case StageMerge:
		return 3
	case StageSelect:
		return 4
	case StageReencode:
		return 5
	case StageWrite:
		return 6
	default:
		return 7
	}
}
