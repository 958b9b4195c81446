// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on a ticker (default once a
// minute) plus one final flush on Close, so a long aggregation run shows up as a
// time series rather than a single spike at exit.
//
// Flush swaps the window under the mutex and submits outside it. A process
// killed with SIGKILL never reaches Close.
package datadog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"surveyagg/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "surveyagg".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:research"}).
	Tags []string

	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesDef maps one metrics name onto a Datadog series and the labels that
// become its tags. A label listed in required drops the observation when empty;
// any other empty label is tagged "unknown".
type seriesDef struct {
	name     string
	labels   []string
	required string
}

var (
	counterDefs = map[string]seriesDef{
		metrics.StepTotal:       {name: "surveyagg.step.total", labels: []string{"step", "status"}},
		metrics.RecordsTotal:    {name: "surveyagg.records.total", labels: []string{"kind"}, required: "kind"},
		metrics.DiagnosticTotal: {name: "surveyagg.diagnostics.total", labels: []string{"severity", "stage"}},
	}
	histogramDefs = map[string]seriesDef{
		metrics.StepDuration: {name: "surveyagg.step.duration_seconds", labels: []string{"step", "status"}},
	}
)

// seriesKey identifies one buffered series; tags is the comma-joined tag list.
type seriesKey struct {
	name string
	tags string
}

func (d seriesDef) key(l metrics.Labels) (seriesKey, bool) {
	tags := make([]string, len(d.labels))
	for i, name := range d.labels {
		v := l[name]
		if v == "" {
			if name == d.required {
				return seriesKey{}, false
			}
			v = "unknown"
		}
		tags[i] = name + ":" + v
	}
	return seriesKey{name: d.name, tags: strings.Join(tags, ",")}, true
}

// window is one collection interval.
type window struct {
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

func newWindow() window {
	return window{counts: map[seriesKey]float64{}, samples: map[seriesKey][]float64{}}
}

func (w window) isEmpty() bool { return len(w.counts) == 0 && len(w.samples) == 0 }

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api      metricsSubmitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time

	flushEvery time.Duration
	newTicker  func(d time.Duration) *time.Ticker
	stop       context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error

	mu  sync.Mutex
	win window
}

func resolveEnvTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client. The
// client reads DD_API_KEY and DD_SITE from the environment; network errors
// surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(errors.New("nil context"))
	}
	if opts.JobName == "" {
		opts.JobName = "surveyagg"
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = time.Minute
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newTicker == nil {
		opts.newTicker = time.NewTicker
	}
	if opts.submitter == nil {
		opts.submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	loopCtx, stop := context.WithCancel(context.Background())
	b := &Backend{
		api:        opts.submitter,
		ctx:        dd.NewDefaultContext(parent),
		baseTags:   append([]string{resolveEnvTag(), "job:" + opts.JobName}, opts.Tags...),
		now:        opts.now,
		flushEvery: opts.FlushEvery,
		newTicker:  opts.newTicker,
		stop:       stop,
		done:       make(chan struct{}),
		win:        newWindow(),
	}
	go b.loop(loopCtx)
	return b, nil
}

func (b *Backend) loop(ctx context.Context) {
	defer close(b.done)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = b.Flush()
		}
	}
}

// Close stops the flush loop and flushes once more. Later calls return the
// first result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.stop()
		<-b.done
		b.closeErr = b.Flush()
	})
	return b.closeErr
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	def, ok := counterDefs[name]
	if !ok || delta <= 0 {
		return
	}
	k, ok := def.key(labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.win.counts[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	def, ok := histogramDefs[name]
	if !ok || value < 0 {
		return
	}
	k, ok := def.key(labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.win.samples[k] = append(b.win.samples[k], value)
	b.mu.Unlock()
}

func (b *Backend) swap() window {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := b.win
	b.win = newWindow()
	return w
}

// Flush submits the current window and starts a new one, even when the
// submission fails. Nothing is sent for an empty window.
func (b *Backend) Flush() error {
	w := b.swap()
	if w.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(w, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries emits counts first, then percentile gauges, each in key order.
func (b *Backend) buildSeries(w window, nowUnix int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries
	for _, k := range sortedKeys(w.counts) {
		if v := w.counts[k]; v != 0 {
			series = append(series, point(k.name, datadogV2.METRICINTAKETYPE_COUNT, v, b.tagsFor(k), nowUnix))
		}
	}
	for _, k := range sortedKeys(w.samples) {
		addPercentiles(&series, k.name, b.tagsFor(k), w.samples[k], nowUnix)
	}
	return series
}

func (b *Backend) tagsFor(k seriesKey) []string {
	return withTags(b.baseTags, strings.Split(k.tags, ",")...)
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. It sorts a copy.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	s := append([]float64(nil), samples...)
	sort.Float64s(s)
	gauges := []struct {
		suffix string
		v      float64
	}{
		{"p50", percentileNearestRank(s, 0.50)},
		{"p90", percentileNearestRank(s, 0.90)},
		{"p95", percentileNearestRank(s, 0.95)},
		{"p99", percentileNearestRank(s, 0.99)},
		{"max", s[len(s)-1]},
		{"samples", float64(len(s))},
	}
	for _, g := range gauges {
		*series = append(*series, point(prefix+"."+g.suffix, datadogV2.METRICINTAKETYPE_GAUGE, g.v, tags, nowUnix))
	}
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	out := make([]seriesKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].tags < out[j].tags
	})
	return out
}

func withTags(base []string, extras ...string) []string {
	return append(append(make([]string, 0, len(base)+len(extras)), base...), extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	switch n := len(s); {
	case n == 0:
		return 0
	case p <= 0:
		return s[0]
	case p >= 1:
		return s[n-1]
	default:
		return s[min(int(p*float64(n-1)+0.5), n-1)]
	}
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:research".
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
