package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/blob"
	"surveyagg/internal/config"
	"surveyagg/internal/diag"
	"surveyagg/internal/metrics"
	"surveyagg/internal/question"
	"surveyagg/internal/storage"
	"surveyagg/internal/tracing"
	"surveyagg/internal/workbook"
)

// Output keys written under outputs.location.
const (
	MasterKey      = "question_master.xlsx"
	MergedKey      = "merged.xlsx"
	DiagnosticsKey = "diagnostics.json"
	ExtractDir     = "extracts"
)

// ErrInvalidConfig wraps validation failures reported by Run and Master.
var ErrInvalidConfig = errors.New("pipeline: invalid configuration")

// Runner wires the engine to stores, workbook writers and the SQL export.
type Runner struct {
	// OpenStore opens a directory or s3:// location.
	OpenStore func(ctx context.Context, location string) (blob.Store, error)

	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	Logger Logger
}

// NewDefaultRunner returns a runner backed by blob.Open and storage.New.
func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		OpenStore: func(ctx context.Context, location string) (blob.Store, error) {
			return blob.Open(ctx, location)
		},
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return storage.New(ctx, cfg)
		},
		Logger: logger,
	}
}

// Run executes a full aggregation: read sources, build everything, write the
// workbooks and diagnostics, and export to SQL when storage is configured.
// The result is returned even when a late stage fails.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.run")
	defer func() { tracing.End(span, err) }()

	if err := validate(cfg); err != nil {
		return nil, err
	}
	books, err := r.loadBooks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeBooks(books)

	decls, err := r.loadDeclarations(ctx, cfg)
	if err != nil {
		return nil, err
	}

	eng := &Engine{Config: cfg, Logger: r.Logger}
	res, err = eng.Run(ctx, books, decls)
	if err != nil {
		r.writeDiagnostics(ctx, cfg, res)
		return res, err
	}
	if err := r.write(ctx, cfg, res, cfg.Outputs.WriteMaster); err != nil {
		return res, err
	}
	if err := r.export(ctx, cfg, res); err != nil {
		return res, err
	}
	return res, nil
}

// Master builds and writes only the question master.
func (r *Runner) Master(ctx context.Context, cfg config.Pipeline) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.master_run")
	defer func() { tracing.End(span, err) }()

	if err := validate(cfg); err != nil {
		return nil, err
	}
	books, err := r.loadBooks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeBooks(books)

	eng := &Engine{Config: cfg, Logger: r.Logger}
	res, err = eng.Master(ctx, books)
	if err != nil {
		r.writeDiagnostics(ctx, cfg, res)
		return res, err
	}
	if err := r.write(ctx, cfg, res, true); err != nil {
		return res, err
	}
	if err := r.export(ctx, cfg, res); err != nil {
		return res, err
	}
	return res, nil
}

// LoadMaster reads only the definition sheets and returns the master, without
// writing anything.
func (r *Runner) LoadMaster(ctx context.Context, cfg config.Pipeline) (*Result, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	books, err := r.loadBooks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeBooks(books)
	eng := &Engine{Config: cfg, Logger: r.Logger}
	return eng.Master(ctx, books)
}

// Declarations reads the configured recipient declarations; nil when none
// are configured.
func (r *Runner) Declarations(ctx context.Context, cfg config.Pipeline) ([]aggregate.Declaration, error) {
	return r.loadDeclarations(ctx, cfg)
}

func validate(cfg config.Pipeline) error {
	issues := config.ValidatePipeline(cfg)
	if !config.HasErrors(issues) {
		return nil
	}
	var msgs []string
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			msgs = append(msgs, iss.String())
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func (r *Runner) loadBooks(ctx context.Context, cfg config.Pipeline) ([]workbook.Book, error) {
	logf := r.logger()
	start := time.Now()

	store, err := r.OpenStore(ctx, cfg.Sources.Location)
	if err != nil {
		return nil, fmt.Errorf("open sources: %w", err)
	}
	keys, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	skip := map[string]bool{}
	if d := cfg.Recipients.Declarations; d != "" {
		if loc, key := splitLocation(d); sameLocation(loc, cfg.Sources.Location) {
			skip[key] = true
		}
	}
	refs := discoverSources(keys, cfg.Sources, path.Base(store.Location()), skip)
	if len(refs) == 0 {
		return nil, fmt.Errorf("%s: %w", store.Location(), question.ErrNoSources)
	}

	books := make([]workbook.Book, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			closeBooks(books)
			return nil, err
		}
		b, err := openBook(ctx, store, ref, cfg.Sources.Parser, logf)
		if err != nil {
			logf("stage=read source=%q open failed: %v", ref.name, err)
			b = brokenBook{name: ref.name, err: err}
		}
		books = append(books, b)
	}
	logf("stage=discover ok location=%s sources=%d duration=%s", store.Location(), len(books), durMS(start))
	return books, nil
}

func (r *Runner) loadDeclarations(ctx context.Context, cfg config.Pipeline) ([]aggregate.Declaration, error) {
	rc := cfg.Recipients
	if strings.TrimSpace(rc.Declarations) == "" {
		return nil, nil
	}
	loc, key := splitLocation(rc.Declarations)
	store, err := r.OpenStore(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("open declarations: %w", err)
	}
	f, err := store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open declarations: %w", err)
	}
	defer f.Close()

	decls, err := workbook.ReadDeclarations(ctx, f, workbook.DeclarationSource{
		Name:           key,
		Sheet:          rc.Sheet,
		NameColumn:     rc.NameColumn,
		QuestionColumn: rc.QuestionColumn,
		Options:        cfg.Sources.Parser,
	})
	if err != nil {
		return nil, fmt.Errorf("read declarations: %w", err)
	}
	metrics.RecordRecords("declarations", len(decls))
	return decls, nil
}

// write puts the workbooks and the diagnostics report into the output store.
func (r *Runner) write(ctx context.Context, cfg config.Pipeline, res *Result, withMaster bool) (err error) {
	ctx, span := tracing.Start(ctx, "pipeline.write")
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordStep(diag.StageWrite, status, time.Since(start))
	}()

	out, err := r.OpenStore(ctx, cfg.Outputs.Location)
	if err != nil {
		return fmt.Errorf("open outputs: %w", err)
	}
	n := 0
	if withMaster && res.Master != nil {
		if err := put(ctx, out, MasterKey, func(w io.Writer) error { return workbook.WriteMaster(w, res.Master) }); err != nil {
			return err
		}
		n++
	}
	if cfg.Outputs.WriteMerged && res.Dataset != nil {
		if err := put(ctx, out, MergedKey, func(w io.Writer) error { return workbook.WriteDataset(w, res.Dataset) }); err != nil {
			return err
		}
		n++
	}
	for _, x := range res.Extracts {
		key := path.Join(ExtractDir, workbook.ExtractFileName(x.Recipient))
		if err := put(ctx, out, key, func(w io.Writer) error { return workbook.WriteExtract(w, x) }); err != nil {
			return err
		}
		n++
	}
	if err := putDiagnostics(ctx, out, res); err != nil {
		return err
	}
	r.logger()("stage=write ok location=%s files=%d duration=%s", out.Location(), n+1, durMS(start))
	return nil
}

// writeDiagnostics is best effort: the run already failed.
func (r *Runner) writeDiagnostics(ctx context.Context, cfg config.Pipeline, res *Result) {
	if res == nil {
		return
	}
	out, err := r.OpenStore(ctx, cfg.Outputs.Location)
	if err != nil {
		return
	}
	if err := putDiagnostics(ctx, out, res); err != nil {
		r.logger()("stage=write diagnostics failed: %v", err)
	}
}

type diagnosticsReport struct {
	RunID       string            `json:"run_id"`
	Errors      int               `json:"errors"`
	Warnings    int               `json:"warnings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

func putDiagnostics(ctx context.Context, out blob.Store, res *Result) error {
	rep := diagnosticsReport{RunID: res.RunID, Diagnostics: res.Diagnostics}
	if rep.Diagnostics == nil {
		rep.Diagnostics = []diag.Diagnostic{}
	}
	for _, d := range res.Diagnostics {
		switch d.Severity {
		case diag.Error:
			rep.Errors++
		case diag.Warn:
			rep.Warnings++
		}
	}
	return put(ctx, out, DiagnosticsKey, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rep)
	})
}

func put(ctx context.Context, out blob.Store, key string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if err := out.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// export writes the run to the configured SQL backend. Nothing happens when
// storage is not configured.
func (r *Runner) export(ctx context.Context, cfg config.Pipeline, res *Result) (err error) {
	st := cfg.Outputs.Storage
	if st == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "pipeline.export")
	defer func() { tracing.End(span, err) }()
	start := time.Now()

	repo, err := r.NewRepository(ctx, storage.Config{Kind: st.Kind, DSN: st.DSN})
	if err != nil {
		return fmt.Errorf("storage %s: %w", st.Kind, err)
	}
	defer repo.Close()

	ex := &storage.Exporter{Repo: repo, RunID: res.RunID, BatchSize: st.BatchSize, Logger: r.Logger}
	if err := ex.Ensure(ctx); err != nil {
		return err
	}
	var total int64
	if res.Master != nil {
		s, err := ex.ExportMaster(ctx, res.Master)
		if err != nil {
			return err
		}
		total += s.Inserted
	}
	if res.Dataset != nil {
		s, err := ex.ExportDataset(ctx, res.Dataset)
		if err != nil {
			return err
		}
		total += s.Inserted
	}
	for _, x := range res.Extracts {
		s, err := ex.ExportExtract(ctx, x)
		if err != nil {
			return err
		}
		total += s.Inserted
	}
	metrics.RecordRecords("stored_rows", int(total))
	r.logger()("stage=export ok kind=%s run_id=%s inserted=%d duration=%s", st.Kind, res.RunID, total, durMS(start))
	return nil
}

func closeBooks(books []workbook.Book) {
	for _, b := range books {
		_ = b.Close()
	}
}

func sameLocation(a, b string) bool {
	clean := func(s string) string {
		s = strings.TrimSuffix(strings.ReplaceAll(s, "\\", "/"), "/")
		if !strings.HasPrefix(s, "s3://") {
			s = path.Clean(s)
		}
		return s
	}
	return clean(a) == clean(b)
}

func (r *Runner) logger() func(string, ...any) {
	return (&Engine{Logger: r.Logger}).logger()
}
