package prompush

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"surveyagg/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewBackendRequiresURL(t *testing.T) {
	if _, err := NewBackend(Options{}); err == nil {
		t.Fatalf("NewBackend without URL: want error")
	}
}

func TestCollectsSurveyMetrics(t *testing.T) {
	b, err := NewBackend(Options{URL: "http://unused"})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "merge", "status": "ok"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "merge", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 7, metrics.Labels{"kind": "merged_rows"})
	b.IncCounter(metrics.RecordsTotal, 7, metrics.Labels{})
	b.IncCounter(metrics.DiagnosticTotal, 1, metrics.Labels{"severity": "warn"})
	b.ObserveHistogram(metrics.StepDuration, 0.2, metrics.Labels{"step": "merge", "status": "ok"})
	b.ObserveHistogram(metrics.StepDuration, -1, metrics.Labels{"step": "merge", "status": "ok"})

	if got := testutil.ToFloat64(b.steps.WithLabelValues("merge", "ok")); got != 2 {
		t.Fatalf("steps=%v want 2", got)
	}
	if got := testutil.ToFloat64(b.records.WithLabelValues("merged_rows")); got != 7 {
		t.Fatalf("records=%v want 7", got)
	}
	if got := testutil.ToFloat64(b.diags.WithLabelValues("warn", "unknown")); got != 1 {
		t.Fatalf("diags=%v want 1", got)
	}
	if n := testutil.CollectAndCount(b.duration); n != 1 {
		t.Fatalf("duration series=%d want 1", n)
	}
}

func TestFlushPushesToGateway(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend(Options{URL: srv.URL, Grouping: map[string]string{"run_id": "r1"}})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "source_rows"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/job/surveyagg") || !strings.Contains(path, "/run_id/r1") {
		t.Fatalf("push path=%q", path)
	}
	if body == "" {
		t.Fatalf("empty push body")
	}
}

func TestFlushWrapsPushError(t *testing.T) {
	boom := errors.New("gateway down")
	b, err := NewBackend(Options{
		URL:    "http://unused",
		pusher: func(context.Context, *push.Pusher) error { return boom },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush err=%v want %v", err, boom)
	}
}
