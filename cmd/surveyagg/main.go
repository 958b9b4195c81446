// Command surveyagg builds a question master across survey exports, merges
// their responses and writes one re-encoded extract per recipient.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/config"
	"surveyagg/internal/logger"
	"surveyagg/internal/pipeline"
	"surveyagg/internal/tracing"

	// register all backends with the storage factory.
	_ "surveyagg/internal/storage/mssql"
	_ "surveyagg/internal/storage/postgres"
	_ "surveyagg/internal/storage/sqlite"
)

// runner is the part of *pipeline.Runner the commands use.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (*pipeline.Result, error)
	Master(ctx context.Context, cfg config.Pipeline) (*pipeline.Result, error)
	LoadMaster(ctx context.Context, cfg config.Pipeline) (*pipeline.Result, error)
	Declarations(ctx context.Context, cfg config.Pipeline) ([]aggregate.Declaration, error)
}

// appDeps are the process seams; tests replace them.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newLogger   func(mode string, verbose bool) (*logger.Logger, error)
	newRunner   func(l pipeline.Logger) runner
	initMetrics func(ctx context.Context, backend, job, pushURL string) (func() error, error)
	initTracing func(ctx context.Context, cfg tracing.Config) (func(context.Context) error, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newLogger:  logger.New,
		newRunner: func(l pipeline.Logger) runner {
			return pipeline.NewDefaultRunner(l)
		},
		initMetrics: initMetrics,
		initTracing: tracing.Init,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// runMain executes the CLI and returns the process exit code: 0 on success,
// 2 for usage errors, 1 otherwise.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintln(stderr, "usage: surveyagg <command> -c path/to/pipeline.yaml (see --help)")
		return 2
	}
	return 1
}
