package pipeline

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"surveyagg/internal/blob"
	"surveyagg/internal/config"
	"surveyagg/internal/table"
	"surveyagg/internal/workbook"
)

// sourceRef is one source discovered in the input store. A single-file
// source has key set; a CSV source is a directory of per-sheet files.
type sourceRef struct {
	name   string
	format string
	key    string
	sheets map[string]string // sheet -> key
}

// discoverSources groups store keys into sources. Hidden files, Office lock
// files ("~$...") and keys listed in skip are ignored. When files is
// non-empty only keys equal to, or below, one of its entries are kept.
func discoverSources(keys []string, cfg config.SourcesConfig, rootName string, skip map[string]bool) []sourceRef {
	var out []sourceRef
	dirs := map[string]*sourceRef{}
	for _, k := range keys {
		base := path.Base(k)
		if skip[k] || strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
			continue
		}
		if len(cfg.Files) > 0 && !selected(k, cfg.Files) {
			continue
		}
		format := strings.ToLower(cfg.Format)
		if format == "" {
			format = workbook.FormatOf(k)
		}
		if format != workbook.FormatCSV {
			if ext := strings.ToLower(path.Ext(k)); format == workbook.FormatAuto && ext != ".xls" {
				// Only ".xls" is worth sniffing; anything else is not a workbook.
				continue
			}
			out = append(out, sourceRef{name: base, format: format, key: k})
			continue
		}
		dir := path.Dir(k)
		ref, ok := dirs[dir]
		if !ok {
			name := path.Base(dir)
			if dir == "." {
				name = rootName
			}
			ref = &sourceRef{name: name, format: workbook.FormatCSV, sheets: map[string]string{}}
			dirs[dir] = ref
		}
		ref.sheets[strings.TrimSuffix(base, path.Ext(base))] = k
	}
	for _, ref := range dirs {
		out = append(out, *ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func selected(key string, files []string) bool {
	for _, f := range files {
		f = strings.Trim(f, "/")
		if key == f || strings.HasPrefix(key, f+"/") {
			return true
		}
	}
	return false
}

// openBook opens ref from store. Single-file books are read fully, so the
// blob reader is closed before returning.
func openBook(ctx context.Context, store blob.Store, ref sourceRef, opt config.Options, logf func(string, ...any)) (workbook.Book, error) {
	if ref.format == workbook.FormatCSV {
		names := make([]string, 0, len(ref.sheets))
		for s := range ref.sheets {
			names = append(names, s)
		}
		sort.Strings(names)
		open := func(ctx context.Context, sheet string) (io.ReadCloser, error) {
			key, ok := ref.sheets[sheet]
			if !ok {
				return nil, fmt.Errorf("sheet %q: %w", sheet, blob.ErrNotFound)
			}
			return store.Open(ctx, key)
		}
		onErr := func(line int, err error) {
			logf("stage=read source=%q line=%d skipped: %v", ref.name, line, err)
		}
		return workbook.NewCSVBook(ref.name, names, open, opt, onErr), nil
	}

	rc, err := store.Open(ctx, ref.key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return workbook.Open(ref.name, ref.format, rc)
}

// brokenBook stands in for a source that could not be opened, so the failure
// surfaces as a read diagnostic for that source instead of aborting the run.
type brokenBook struct {
	name string
	err  error
}

func (b brokenBook) Name() string         { return b.name }
func (b brokenBook) SheetNames() []string { return nil }
func (b brokenBook) Close() error         { return nil }

func (b brokenBook) Table(context.Context, string, int) (*table.Table, error) {
	return nil, fmt.Errorf("open %s: %w", b.name, b.err)
}

// splitLocation splits a file location ("dir/file.xlsx" or
// "s3://bucket/prefix/file.xlsx") into its store location and key.
func splitLocation(loc string) (store, key string) {
	if rest, ok := strings.CutPrefix(loc, "s3://"); ok {
		i := strings.LastIndex(rest, "/")
		if i < 0 {
			return "s3://" + rest, ""
		}
		return "s3://" + rest[:i], rest[i+1:]
	}
	dir, file := path.Split(strings.ReplaceAll(loc, "\\", "/"))
	if dir == "" {
		dir = "."
	}
	return strings.TrimSuffix(dir, "/"), file
}
