// Package prompush implements a metrics.Backend that collects into a private
// Prometheus registry and pushes it to a Pushgateway on Flush. Batch runs
// end before a scraper would see them, so push is the only useful mode.
package prompush

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"surveyagg/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Options configures the Pushgateway backend.
type Options struct {
	// URL of the Pushgateway, e.g. http://pushgateway:9091. Required.
	URL string
	// JobName is the grouping job. Defaults to "surveyagg".
	JobName string
	// Grouping adds grouping key labels (e.g. run_id).
	Grouping map[string]string

	pusher func(ctx context.Context, p *push.Pusher) error
}

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	reg      *prometheus.Registry
	steps    *prometheus.CounterVec
	records  *prometheus.CounterVec
	diags    *prometheus.CounterVec
	duration *prometheus.HistogramVec

	url      string
	job      string
	grouping map[string]string
	pushFn   func(ctx context.Context, p *push.Pusher) error

	mu sync.Mutex
}

// NewBackend registers the survey collectors on a fresh registry.
func NewBackend(opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("prompush: pushgateway url is required")
	}
	job := opts.JobName
	if job == "" {
		job = "surveyagg"
	}
	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline stage executions by status.",
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records processed by kind.",
		}, []string{"kind"}),
		diags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DiagnosticTotal,
			Help: "Diagnostics emitted by severity and stage.",
		}, []string{"severity", "stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDuration,
			Help:    "Pipeline stage duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"step", "status"}),
		url:      opts.URL,
		job:      job,
		grouping: opts.Grouping,
		pushFn:   opts.pusher,
	}
	if b.pushFn == nil {
		b.pushFn = func(ctx context.Context, p *push.Pusher) error { return p.PushContext(ctx) }
	}
	for _, c := range []prometheus.Collector{b.steps, b.records, b.diags, b.duration} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	return b, nil
}

// Registry exposes the underlying registry, mainly for tests.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(orUnknown(l["step"]), orUnknown(l["status"])).Add(delta)
	case metrics.RecordsTotal:
		if l["kind"] != "" {
			b.records.WithLabelValues(l["kind"]).Add(delta)
		}
	case metrics.DiagnosticTotal:
		b.diags.WithLabelValues(orUnknown(l["severity"]), orUnknown(l["stage"])).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, l metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}
	b.duration.WithLabelValues(orUnknown(l["step"]), orUnknown(l["status"])).Observe(value)
}

// Flush pushes the registry, replacing the group's previous values.
func (b *Backend) Flush() error {
	return b.FlushContext(context.Background())
}

// FlushContext is Flush with a caller-supplied context.
func (b *Backend) FlushContext(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := push.New(b.url, b.job).Gatherer(b.reg)
	for k, v := range b.grouping {
		p = p.Grouping(k, v)
	}
	if err := b.pushFn(ctx, p); err != nil {
		return fmt.Errorf("prompush: push %s: %w", b.url, err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
