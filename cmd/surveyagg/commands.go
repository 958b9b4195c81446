package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/config"
	"surveyagg/internal/diag"
	"surveyagg/internal/logger"
	"surveyagg/internal/pipeline"
	"surveyagg/internal/question"
	"surveyagg/internal/tracing"
)

type rootFlags struct {
	configPath     string
	metricsBackend string
	pushURL        string
	logMode        string
	verbose        bool
	trace          bool
}

type app struct {
	deps  appDeps
	flags rootFlags
}

func newRootCmd(deps appDeps) *cobra.Command {
	a := &app{deps: deps}
	root := &cobra.Command{
		Use:           "surveyagg",
		Short:         "Aggregate survey exports across sources by question text",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "pipeline config path (.json, .yaml)")
	pf.StringVar(&a.flags.metricsBackend, "metrics-backend", os.Getenv("METRICS_BACKEND"), "metrics backend: none, pushgateway or datadog")
	pf.StringVar(&a.flags.pushURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	pf.StringVar(&a.flags.logMode, "log-mode", "dev", "log format: dev or json")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logs")
	pf.BoolVar(&a.flags.trace, "trace", false, "export trace spans to stderr (also OTEL_ENABLED)")

	root.AddCommand(a.validateCmd(), a.masterCmd(), a.aggregateCmd(), a.matchCmd())
	return root
}

func (a *app) load() (config.Pipeline, error) {
	path := strings.TrimSpace(a.flags.configPath)
	if path == "" {
		return config.Pipeline{}, usageError{errors.New("--config is required")}
	}
	cfg, err := a.deps.loadConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// session holds what a running command needs; close releases it in reverse
// order of setup.
type session struct {
	cfg    config.Pipeline
	log    *logger.Logger
	runner runner
	closer []func() error
}

func (s *session) close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		if err := s.closer[i](); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	}
	s.log.Sync()
}

func (a *app) start(ctx context.Context) (*session, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	lg, err := a.deps.newLogger(a.flags.logMode, a.flags.verbose)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: lg}

	cleanup, err := a.deps.initMetrics(ctx, a.flags.metricsBackend, cfg.Job, a.flags.pushURL)
	if err != nil {
		lg.Sync()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	s.closer = append(s.closer, cleanup)

	tcfg := tracing.Config{Enabled: a.flags.trace, ServiceName: "surveyagg"}.FromEnv()
	shutdown, err := a.deps.initTracing(ctx, tcfg)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.closer = append(s.closer, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	lg.Debug("config loaded", "path", a.flags.configPath, "job", cfg.Job, "sources", cfg.Sources.Location,
		"metrics", a.flags.metricsBackend, "tracing", tcfg.Enabled)
	if st := cfg.Outputs.Storage; st != nil {
		lg.Debug("storage", "kind", st.Kind, "dsn", st.DSN)
	}
	s.runner = a.deps.newRunner(lg.Std())
	return s, nil
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline config and print every issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			issues := config.ValidatePipeline(cfg)
			for _, iss := range issues {
				fmt.Fprintln(cmd.OutOrStdout(), iss)
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("configuration is invalid: %s", a.flags.configPath)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (a *app) masterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "master",
		Short: "Build the question master and write it to outputs.location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.runner.Master(cmd.Context(), s.cfg)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			m := res.Master
			fmt.Fprintf(cmd.OutOrStdout(), "ok run_id=%s sources=%d questions=%d base=%s %s\n",
				res.RunID, len(m.Sources()), m.Len(), m.Base(), diagSummary(res.Diagnostics))
			return nil
		},
	}
}

func (a *app) aggregateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Run the full aggregation and write every output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.runner.Run(cmd.Context(), s.cfg)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok run_id=%s sources=%d questions=%d rows=%d extracts=%d %s\n",
				res.RunID, len(res.Master.Sources()), res.Master.Len(), res.Dataset.Len(), len(res.Extracts),
				diagSummary(res.Diagnostics))
			if n := countSeverity(res.Diagnostics, diag.Error); strict && n > 0 {
				return fmt.Errorf("%d error diagnostics (see %s)", n, pipeline.DiagnosticsKey)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any error diagnostic was recorded")
	return cmd
}

// matchReport is one recipient text checked against the master.
type matchReport struct {
	Recipient   string                `json:"recipient"`
	Text        string                `json:"text"`
	Matched     bool                  `json:"matched"`
	Canonical   string                `json:"canonical,omitempty"`
	Suggestions []question.Suggestion `json:"suggestions,omitempty"`
}

func (a *app) matchCmd() *cobra.Command {
	var (
		n       int
		cutoff  float64
		asJSON  bool
		onlyBad bool
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Check recipient question texts against the master and suggest near misses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.runner.LoadMaster(cmd.Context(), s.cfg)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			decls, err := s.runner.Declarations(cmd.Context(), s.cfg)
			if err != nil {
				return err
			}
			rc := s.cfg.Recipients
			recips := aggregate.GroupRecipients(decls, rc.Baseline, rc.Schemes, rc.DefaultScheme)
			reports := matchRecipients(res.Master, recips, n, cutoff)
			if onlyBad {
				kept := reports[:0]
				for _, r := range reports {
					if !r.Matched {
						kept = append(kept, r)
					}
				}
				reports = kept
			}
			return writeMatches(cmd.OutOrStdout(), reports, asJSON)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&n, "suggestions", "n", 3, "suggestions per unmatched text")
	f.Float64Var(&cutoff, "cutoff", question.DefaultCutoff, "minimum similarity ratio for a suggestion")
	f.BoolVar(&asJSON, "json", false, "print JSON instead of text")
	f.BoolVar(&onlyBad, "unmatched", false, "print only unmatched texts")
	return cmd
}

func matchRecipients(m *question.Master, recips []aggregate.Recipient, n int, cutoff float64) []matchReport {
	texts := m.Texts()
	var out []matchReport
	for _, r := range recips {
		for _, text := range r.Texts {
			rep := matchReport{Recipient: r.Name, Text: text}
			if e, ok := m.Lookup(text); ok {
				rep.Matched, rep.Canonical = true, e.Text
			} else {
				rep.Suggestions = question.Suggest(text, texts, n, cutoff)
			}
			out = append(out, rep)
		}
	}
	return out
}

func writeMatches(w io.Writer, reports []matchReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if reports == nil {
			reports = []matchReport{}
		}
		return enc.Encode(reports)
	}
	for _, r := range reports {
		switch {
		case r.Matched && r.Canonical != r.Text:
			fmt.Fprintf(w, "%s\tok\t%q -> %q\n", r.Recipient, r.Text, r.Canonical)
		case r.Matched:
			fmt.Fprintf(w, "%s\tok\t%q\n", r.Recipient, r.Text)
		default:
			fmt.Fprintf(w, "%s\tmissing\t%q\n", r.Recipient, r.Text)
			for _, sg := range r.Suggestions {
				fmt.Fprintf(w, "\t\t%.2f %q\n", sg.Ratio, sg.Text)
			}
		}
	}
	return nil
}

func diagSummary(ds []diag.Diagnostic) string {
	return fmt.Sprintf("errors=%d warnings=%d", countSeverity(ds, diag.Error), countSeverity(ds, diag.Warn))
}

func countSeverity(ds []diag.Diagnostic, sev diag.Severity) int {
	n := 0
	for _, d := range ds {
		if d.Severity == sev {
			n++
		}
	}
	return n
}
