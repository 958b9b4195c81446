package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"surveyagg/internal/metrics"
	"surveyagg/internal/metrics/datadog"
	"surveyagg/internal/metrics/prompush"
)

// initMetrics installs the named backend and returns its cleanup, which
// flushes and restores the nop backend. "" and "none" disable metrics.
func initMetrics(ctx context.Context, backend, job, pushURL string) (func() error, error) {
	switch backend {
	case "", "none":
		return func() error { return nil }, nil

	case "pushgateway", "prompush":
		if pushURL == "" {
			pushURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if pushURL == "" {
			pushURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(prompush.Options{URL: pushURL, JobName: job})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return func() error {
			defer metrics.SetBackend(nil)
			return b.FlushContext(ctx)
		}, nil

	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		// Close stops the flush loop and submits what is left.
		return func() error {
			defer metrics.SetBackend(nil)
			return b.Close()
		}, nil
	}
	return nil, fmt.Errorf("unknown metrics backend %q (want none, pushgateway or datadog)", backend)
}
