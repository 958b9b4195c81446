package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hist     map[string][]float64
	flushed  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, hist: map[string][]float64{}}
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+l["step"]+l["kind"]+l["severity"]] += delta
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist[name] = append(r.hist[name], v)
}

func (r *recorder) Flush() error {
	r.flushed++
	return errors.New("flushed")
}

func TestHelpersReachInstalledBackend(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("merge", "ok", 1500*time.Millisecond)
	RecordRecords("merged_rows", 10)
	RecordRecords("merged_rows", 0)
	RecordDiagnostic("warn", "rename")

	if got := r.counters[StepTotal+"|merge"]; got != 1 {
		t.Fatalf("step counter=%v want 1", got)
	}
	if got := r.hist[StepDuration]; len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("durations=%v want [1.5]", got)
	}
	if got := r.counters[RecordsTotal+"|merged_rows"]; got != 10 {
		t.Fatalf("records=%v want 10", got)
	}
	if got := r.counters[DiagnosticTotal+"|warn"]; got != 1 {
		t.Fatalf("diagnostics=%v want 1", got)
	}
	if err := Flush(); err == nil || r.flushed != 1 {
		t.Fatalf("Flush err=%v flushed=%d", err, r.flushed)
	}
}

func TestNopBackend(t *testing.T) {
	SetBackend(nil)
	RecordStep("x", "ok", time.Second)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush err=%v", err)
	}
}
