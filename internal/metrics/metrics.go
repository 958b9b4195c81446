// Package metrics is the vendor-neutral metrics seam. Pipeline code records
// through the helpers here; a backend (Datadog, Prometheus Pushgateway) is
// installed once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends translate them to their own naming.
const (
	StepTotal       = "survey_step_total"
	StepDuration    = "survey_step_duration_seconds"
	RecordsTotal    = "survey_records_total"
	DiagnosticTotal = "survey_diagnostics_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by buffering backends.
type Flusher interface {
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b; nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one stage execution and observes its duration.
func RecordStep(step, status string, d time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRecords counts n records of kind ("source_rows", "merged_rows",
// "dropped_rows", "extract_rows", "stored_cells", ...).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordDiagnostic counts a diagnostic by severity and stage.
func RecordDiagnostic(severity, stage string) {
	current().IncCounter(DiagnosticTotal, 1, Labels{"severity": severity, "stage": stage})
}
