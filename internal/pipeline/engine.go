// Package pipeline sequences an aggregation run: read sources, build the
// question master, rename each source's responses, merge, then select and
// re-encode one extract per recipient.
//
// The Engine works on already opened books and declarations and performs no
// I/O of its own; Runner wires it to blob stores, workbook writers and the
// SQL export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/config"
	"surveyagg/internal/diag"
	"surveyagg/internal/metrics"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
	"surveyagg/internal/tracing"
	"surveyagg/internal/workbook"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Result is everything one run produced. Dataset and Extracts are nil for a
// master-only run.
type Result struct {
	RunID       string
	Master      *question.Master
	Dataset     *aggregate.Dataset
	Extracts    []*aggregate.Extract
	Diagnostics []diag.Diagnostic
}

// Engine runs the in-memory stages for one pipeline document.
type Engine struct {
	Config config.Pipeline
	Logger Logger

	// NewRunID is a seam for tests; nil uses a random UUID.
	NewRunID func() string
}

// source is one book after the read stage. Responses is nil when the data
// sheet could not be read.
type source struct {
	name      string
	defs      question.SourceDefinitions
	hasDefs   bool
	responses *table.Table
}

// Master reads the definition sheets of books and builds the question
// master. Books are not closed.
func (e *Engine) Master(ctx context.Context, books []workbook.Book) (*Result, error) {
	res, c := e.newResult()
	srcs, err := e.read(ctx, books, c, false)
	if err != nil {
		return e.finish(res, c), err
	}
	m, err := e.buildMaster(ctx, srcs, c)
	res.Master = m
	return e.finish(res, c), err
}

// Run executes every stage. Per-source and per-recipient problems become
// diagnostics; only configuration-level failures (no sources, no questions,
// empty dataset, cancellation) are returned as errors.
func (e *Engine) Run(ctx context.Context, books []workbook.Book, decls []aggregate.Declaration) (*Result, error) {
	logf := e.logger()
	res, c := e.newResult()
	start := time.Now()

	srcs, err := e.read(ctx, books, c, true)
	if err != nil {
		return e.finish(res, c), err
	}
	m, err := e.buildMaster(ctx, srcs, c)
	if err != nil {
		return e.finish(res, c), err
	}
	res.Master = m

	renamed, err := e.rename(ctx, srcs, m, c)
	if err != nil {
		return e.finish(res, c), err
	}
	d, err := e.merge(ctx, renamed, c)
	if err != nil {
		return e.finish(res, c), err
	}
	res.Dataset = d

	recips := aggregate.GroupRecipients(decls, e.Config.Recipients.Baseline, e.Config.Recipients.Schemes, e.Config.Recipients.DefaultScheme)
	if len(recips) == 0 {
		c.Addf(diag.Warn, diag.StageSelect, "", "no recipient declarations; no extracts produced")
	}
	res.Extracts, err = e.extract(ctx, d, recips, m, c)
	if err != nil {
		return e.finish(res, c), err
	}

	logf("stage=run ok run_id=%s sources=%d questions=%d rows=%d extracts=%d diagnostics=%d duration=%s",
		res.RunID, len(m.Sources()), m.Len(), d.Len(), len(res.Extracts), len(c.Items()), durMS(start))
	return e.finish(res, c), nil
}

func (e *Engine) newResult() (*Result, *diag.Collector) {
	id := ""
	if e.NewRunID != nil {
		id = e.NewRunID()
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Result{RunID: id}, &diag.Collector{}
}

// finish attaches the diagnostics, logs the non-info ones and counts them.
func (e *Engine) finish(res *Result, c *diag.Collector) *Result {
	logf := e.logger()
	res.Diagnostics = diag.Sorted(c.Items())
	for _, d := range res.Diagnostics {
		metrics.RecordDiagnostic(string(d.Severity), d.Stage)
		if d.Severity != diag.Info {
			logf("diag %s", d)
		}
	}
	return res
}

// read opens the definition sheet (and the data sheet when withData) of
// every book. A book whose sheets cannot be read is reported and skipped.
func (e *Engine) read(ctx context.Context, books []workbook.Book, c *diag.Collector, withData bool) (srcs []source, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.read", attribute.Int("books", len(books)))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { e.step(diag.StageRead, start, err) }()

	layout := e.layout()
	srcs = make([]source, len(books))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers(e.Config.Runtime.RenameWorkers))
	for i, b := range books {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := source{name: b.Name()}
			defs, derr := workbook.ReadDefinitions(gctx, b, layout)
			if derr != nil {
				c.Addf(diag.Error, diag.StageRead, s.name, "definition sheet: %v", derr)
			} else {
				s.defs, s.hasDefs = defs, true
			}
			if withData {
				t, rerr := workbook.ReadResponses(gctx, b, layout)
				if rerr != nil {
					c.Addf(diag.Error, diag.StageRead, s.name, "data sheet: %v; source skipped in merge", rerr)
				} else {
					s.responses = t
				}
			}
			srcs[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.RecordRecords("sources", len(books))
	return srcs, nil
}

func (e *Engine) buildMaster(ctx context.Context, srcs []source, c *diag.Collector) (m *question.Master, err error) {
	_, span := tracing.Start(ctx, "pipeline.master")
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { e.step(diag.StageMaster, start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter, err := question.NewCodeFilter(e.Config.Sources.CodePattern)
	if err != nil {
		return nil, fmt.Errorf("code pattern: %w", err)
	}
	id, err := question.ParseIdentity(e.Config.Identity.Match)
	if err != nil {
		return nil, err
	}

	var defs []question.SourceDefinitions
	for _, s := range srcs {
		if s.hasDefs {
			defs = append(defs, s.defs)
		}
	}
	m, ds, err := question.Build(defs, question.Options{
		Identity:   id,
		BaseSource: e.Config.Identity.BaseSource,
		Filter:     filter,
	})
	c.Merge(ds)
	if err != nil {
		return nil, fmt.Errorf("build master: %w", err)
	}
	metrics.RecordRecords("questions", m.Len())
	e.logger()("stage=master questions=%d sources=%d base=%q identity=%s", m.Len(), len(m.Sources()), m.Base(), m.Identity())
	return m, nil
}

func (e *Engine) rename(ctx context.Context, srcs []source, m *question.Master, c *diag.Collector) (inputs []aggregate.Input, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.rename")
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { e.step(diag.StageRename, start, err) }()

	cols := e.columns()
	out := make([]*aggregate.Input, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers(e.Config.Runtime.RenameWorkers))
	for i, s := range srcs {
		if s.responses == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t0 := time.Now()
			t, ds := aggregate.Rename(s.responses, s.name, m, cols)
			c.Merge(ds)
			if t == nil {
				e.logger()("stage=rename source=%q excluded: no mapped questions", s.name)
				return nil
			}
			out[i] = &aggregate.Input{Source: s.name, Table: t}
			if e.Config.Runtime.DebugTimings {
				e.logger()("stage=rename source=%q rows=%d columns=%d duration=%s", s.name, t.Len(), len(t.Columns), durMS(t0))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, in := range out {
		if in != nil {
			inputs = append(inputs, *in)
		}
	}
	return inputs, nil
}

func (e *Engine) merge(ctx context.Context, inputs []aggregate.Input, c *diag.Collector) (d *aggregate.Dataset, err error) {
	_, span := tracing.Start(ctx, "pipeline.merge", attribute.Int("inputs", len(inputs)))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { e.step(diag.StageMerge, start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("merge: %w", aggregate.ErrEmptyDataset)
	}
	d, ds, err := aggregate.Merge(inputs, e.columns())
	c.Merge(ds)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	metrics.RecordRecords("rows", d.Len())
	e.logger()("stage=merge rows=%d dropped=%d columns=%d", d.Len(), d.InputRows-d.Len(), len(d.Table.Columns))
	return d, nil
}

// extract selects and re-encodes per recipient. A recipient with no matching
// column is reported and skipped. Extracts keep recipient order.
func (e *Engine) extract(ctx context.Context, d *aggregate.Dataset, recips []aggregate.Recipient, m *question.Master, c *diag.Collector) (xs []*aggregate.Extract, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.extract", attribute.Int("recipients", len(recips)))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { e.step(diag.StageReencode, start, err) }()

	out := make([]*aggregate.Extract, len(recips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers(e.Config.Runtime.ExtractWorkers))
	for i, r := range recips {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t0 := time.Now()
			sel, ds, err := aggregate.Select(d, r, m)
			c.Merge(ds)
			if errors.Is(err, aggregate.ErrNoColumnsSelected) {
				c.Addf(diag.Error, diag.StageSelect, r.Name, "none of %d texts matched a dataset column; no extract produced", len(r.Texts))
				return nil
			}
			if err != nil {
				return fmt.Errorf("select %s: %w", r.Name, err)
			}
			x, ds := aggregate.Reencode(sel, m)
			c.Merge(ds)
			out[i] = x
			if e.Config.Runtime.DebugTimings {
				e.logger()("stage=extract recipient=%q scheme=%s columns=%d duration=%s", r.Name, x.Scheme, len(x.Table.Columns), durMS(t0))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, x := range out {
		if x != nil {
			xs = append(xs, x)
		}
	}
	metrics.RecordRecords("extracts", len(xs))
	return xs, nil
}

// step logs and records one stage outcome.
func (e *Engine) step(stage string, start time.Time, err error) {
	d := time.Since(start)
	if err != nil {
		metrics.RecordStep(stage, "error", d)
		e.logger()("stage=%s error=%q duration=%s", stage, err, d.Truncate(time.Millisecond))
		return
	}
	metrics.RecordStep(stage, "ok", d)
	e.logger()("stage=%s ok duration=%s", stage, d.Truncate(time.Millisecond))
}

func (e *Engine) layout() workbook.Layout {
	s := e.Config.Sources
	return workbook.Layout{
		DefinitionSheet: s.DefinitionSheet,
		DataSheet:       s.DataSheet,
		HeaderRow:       s.HeaderRow,
		CodeColumn:      s.CodeColumn,
		TextColumn:      s.TextColumn,
		ConditionColumn: s.ConditionColumn,
		TypeColumn:      s.TypeColumn,
	}
}

func (e *Engine) columns() aggregate.Columns {
	cols := aggregate.DefaultColumns()
	if v := e.Config.Sources.RowIDColumn; v != "" {
		cols.RowID = v
	}
	if v := e.Config.Sources.TimestampColumn; v != "" {
		cols.Timestamp = v
	}
	return cols
}

func (e *Engine) workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (e *Engine) logger() func(string, ...any) {
	if e.Logger != nil {
		return e.Logger.Printf
	}
	return log.New(io.Discard, "", 0).Printf
}

func durMS(start time.Time) time.Duration {
	return time.Since(start).Truncate(time.Millisecond)
}
