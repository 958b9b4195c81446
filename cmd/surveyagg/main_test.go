package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/config"
	"surveyagg/internal/diag"
	"surveyagg/internal/logger"
	"surveyagg/internal/pipeline"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
	"surveyagg/internal/tracing"
)

// fakeRunner records calls and returns canned results.
type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline

	res   *pipeline.Result
	decls []aggregate.Declaration
}

func (r *fakeRunner) record(cfg config.Pipeline) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = cfg
	r.mu.Unlock()
}

func (r *fakeRunner) Run(_ context.Context, cfg config.Pipeline) (*pipeline.Result, error) {
	r.record(cfg)
	return r.res, r.err
}

func (r *fakeRunner) Master(_ context.Context, cfg config.Pipeline) (*pipeline.Result, error) {
	r.record(cfg)
	return r.res, r.err
}

func (r *fakeRunner) LoadMaster(_ context.Context, cfg config.Pipeline) (*pipeline.Result, error) {
	r.record(cfg)
	return r.res, r.err
}

func (r *fakeRunner) Declarations(context.Context, config.Pipeline) ([]aggregate.Declaration, error) {
	return r.decls, nil
}

func sampleResult(t *testing.T) *pipeline.Result {
	t.Helper()
	filter, err := question.NewCodeFilter(config.DefaultCodePattern)
	if err != nil {
		t.Fatal(err)
	}
	m, _, err := question.Build([]question.SourceDefinitions{
		{Source: "a", Rows: []question.Definition{{Code: "Q-1", Text: "What is your age?"}, {Code: "Q-2", Text: "Opinion?"}}},
	}, question.Options{Identity: question.Exact, Filter: filter})
	if err != nil {
		t.Fatal(err)
	}
	return &pipeline.Result{
		RunID:  "run-1",
		Master: m,
		Diagnostics: []diag.Diagnostic{
			{Severity: diag.Error, Stage: diag.StageSelect, Subject: "R2", Message: "nothing matched"},
			{Severity: diag.Warn, Stage: diag.StageMerge, Subject: "a", Message: "rows dropped"},
		},
	}
}

func validConfig() config.Pipeline {
	var p config.Pipeline
	p.Sources.Location = "in"
	p.Outputs.Location = "out"
	p.ApplyDefaults()
	return p
}

type harness struct {
	runner       *fakeRunner
	loadErr      error
	cfg          config.Pipeline
	metricsErr   error
	backend      string
	cleanupCalls atomic.Int64
	traceCalls   atomic.Int64
}

func (h *harness) deps(t *testing.T) appDeps {
	return appDeps{
		loadConfig: func(path string) (config.Pipeline, error) {
			if path != "p.yaml" {
				t.Errorf("config path=%q", path)
			}
			return h.cfg, h.loadErr
		},
		newLogger: func(string, bool) (*logger.Logger, error) { return logger.Nop(), nil },
		newRunner: func(pipeline.Logger) runner { return h.runner },
		initMetrics: func(_ context.Context, backend, job, _ string) (func() error, error) {
			h.backend = backend
			if h.metricsErr != nil {
				return nil, h.metricsErr
			}
			return func() error { h.cleanupCalls.Add(1); return nil }, nil
		},
		initTracing: func(context.Context, tracing.Config) (func(context.Context) error, error) {
			h.traceCalls.Add(1)
			return func(context.Context) error { return nil }, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{"missing_config_flag", []string{"aggregate"}, "--config is required"},
		{"blank_config_value", []string{"master", "-c", "   "}, "--config is required"},
		{"unknown_flag", []string{"aggregate", "--nope"}, "unknown flag"},
		{"unknown_command", []string{"explode"}, "unknown command"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			deps := appDeps{
				loadConfig: func(string) (config.Pipeline, error) {
					t.Fatalf("loadConfig must not be called on usage errors")
					return config.Pipeline{}, nil
				},
				newRunner: func(pipeline.Logger) runner {
					t.Fatalf("newRunner must not be called on usage errors")
					return nil
				},
			}
			code := runMain(context.Background(), tc.args, &stdout, &stderr, deps)
			if code != 2 {
				t.Fatalf("exit code=%d want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_Aggregate_Flow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		loadErr          error
		metricsErr       error
		runErr           error
		strict           bool
		wantCode         int
		wantStderrSub    string
		wantStdoutSub    string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "read_config_error", loadErr: errors.New("no such file"), wantCode: 1, wantStderrSub: "read config:"},
		{name: "init_metrics_error", metricsErr: errors.New("unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{name: "runner_error_runs_cleanup", runErr: errors.New("db failed"), wantCode: 1, wantStderrSub: "run: db failed", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "success", wantCode: 0, wantStdoutSub: "ok run_id=run-1 sources=1 questions=2 rows=0 extracts=0 errors=1 warnings=1", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "strict_fails_on_error_diagnostics", strict: true, wantCode: 1, wantStderrSub: "1 error diagnostics", wantRunnerCalls: 1, wantCleanupCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := sampleResult(t)
			res.Dataset = &aggregate.Dataset{Table: table.New("merged", nil)}
			h := &harness{
				runner:     &fakeRunner{err: tc.runErr, res: res},
				loadErr:    tc.loadErr,
				cfg:        validConfig(),
				metricsErr: tc.metricsErr,
			}
			if tc.runErr != nil {
				h.runner.res = nil
			}
			args := []string{"aggregate", "-c", "p.yaml", "--metrics-backend", "datadog"}
			if tc.strict {
				args = append(args, "--strict")
			}
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), args, &stdout, &stderr, h.deps(t))

			if code != tc.wantCode {
				t.Fatalf("exit code=%d want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutSub != "" && !strings.Contains(stdout.String(), tc.wantStdoutSub) {
				t.Fatalf("stdout=%q want contains %q", stdout.String(), tc.wantStdoutSub)
			}
			if got := h.runner.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d want %d", got, tc.wantRunnerCalls)
			}
			if got := h.cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d want %d", got, tc.wantCleanupCalls)
			}
			if tc.loadErr == nil && h.backend != "datadog" {
				t.Fatalf("backend=%q", h.backend)
			}
		})
	}
}

func TestRunMain_Master(t *testing.T) {
	t.Parallel()
	h := &harness{runner: &fakeRunner{res: sampleResult(t)}, cfg: validConfig()}
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"master", "--config", "p.yaml", "--trace"}, &stdout, &stderr, h.deps(t))
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	if want := "ok run_id=run-1 sources=1 questions=2 base=a errors=1 warnings=1\n"; stdout.String() != want {
		t.Fatalf("stdout=%q want %q", stdout.String(), want)
	}
	if h.traceCalls.Load() != 1 {
		t.Fatalf("tracing not initialized")
	}
	if h.runner.lastCfg.Job != "survey_aggregation" {
		t.Fatalf("runner got cfg=%+v", h.runner.lastCfg)
	}
}

func TestRunMain_Validate(t *testing.T) {
	t.Parallel()

	good := validConfig()
	bad := validConfig()
	bad.Outputs.Location = ""
	bad.Identity.Match = "fuzzy"

	for _, tc := range []struct {
		name     string
		cfg      config.Pipeline
		wantCode int
		wantOut  []string
	}{
		{"valid", good, 0, []string{"ok"}},
		{"invalid", bad, 1, []string{"outputs.location", "identity.match"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := &harness{runner: &fakeRunner{}, cfg: tc.cfg}
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), []string{"validate", "-c", "p.yaml"}, &stdout, &stderr, h.deps(t))
			if code != tc.wantCode {
				t.Fatalf("exit code=%d want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			for _, s := range tc.wantOut {
				if !strings.Contains(stdout.String(), s) {
					t.Fatalf("stdout=%q want contains %q", stdout.String(), s)
				}
			}
			if h.runner.calls.Load() != 0 || h.traceCalls.Load() != 0 {
				t.Fatalf("validate must not run the pipeline")
			}
		})
	}
}

func TestRunMain_Match(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Recipients.Baseline = []string{"Opinion?"}
	h := &harness{
		runner: &fakeRunner{
			res:   sampleResult(t),
			decls: []aggregate.Declaration{{Recipient: "R1", Text: "What is your age ?"}},
		},
		cfg: cfg,
	}
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"match", "-c", "p.yaml", "--json"}, &stdout, &stderr, h.deps(t))
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	var got []matchReport
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("json: %v\n%s", err, stdout.String())
	}
	if len(got) != 2 {
		t.Fatalf("reports=%+v", got)
	}
	if !got[0].Matched || got[0].Text != "Opinion?" {
		t.Fatalf("baseline report=%+v", got[0])
	}
	if got[1].Matched || len(got[1].Suggestions) == 0 || got[1].Suggestions[0].Text != "What is your age?" {
		t.Fatalf("near miss report=%+v", got[1])
	}

	stdout.Reset()
	code = runMain(context.Background(), []string{"match", "-c", "p.yaml", "--unmatched"}, &stdout, &stderr, h.deps(t))
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	if out := stdout.String(); strings.Contains(out, "Opinion?") || !strings.Contains(out, "R1\tmissing") {
		t.Fatalf("text output=%q", out)
	}
}

func TestInitMetrics_Backends(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "none", "job", "")
	if err != nil || cleanup() != nil {
		t.Fatalf("none: err=%v", err)
	}
	if _, err := initMetrics(context.Background(), "statsd", "job", ""); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
