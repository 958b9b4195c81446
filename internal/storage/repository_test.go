package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	ensured []TableSpec
	calls   int
	rows    map[string][][]any
	seen    map[string]bool
	err     error
	closed  bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string][][]any{}, seen: map[string]bool{}}
}

func (f *fakeRepo) Close() { f.closed = true }

func (f *fakeRepo) EnsureTables(_ context.Context, tables []TableSpec) error {
	f.ensured = append(f.ensured, tables...)
	return f.err
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, columns []string, rows [][]any, dedupe []string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	pos := map[string]int{}
	for i, c := range columns {
		pos[c] = i
	}
	var n int64
	for _, r := range rows {
		if len(r) != len(columns) {
			return n, fmt.Errorf("row width %d != %d", len(r), len(columns))
		}
		key := []string{table}
		for _, d := range dedupe {
			key = append(key, fmt.Sprint(r[pos[d]]))
		}
		k := strings.Join(key, "\x00")
		if len(dedupe) > 0 && f.seen[k] {
			continue
		}
		f.seen[k] = true
		f.rows[table] = append(f.rows[table], r)
		n++
	}
	return n, nil
}

func TestRegisterAndNew(t *testing.T) {
	repo := newFakeRepo()
	Register("fake-registry-test", func(context.Context, Config) (Repository, error) { return repo, nil })

	got, err := New(context.Background(), Config{Kind: "fake-registry-test"})
	require.NoError(t, err)
	require.Same(t, repo, got)
	require.Contains(t, Kinds(), "fake-registry-test")

	require.Panics(t, func() {
		Register("fake-registry-test", func(context.Context, Config) (Repository, error) { return nil, nil })
	})
	require.Panics(t, func() { Register("", func(context.Context, Config) (Repository, error) { return nil, nil }) })
	require.Panics(t, func() { Register("nil-factory", nil) })
}

func TestNewErrors(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "missing kind")

	_, err = New(context.Background(), Config{Kind: "nope"})
	require.ErrorContains(t, err, "unsupported kind=nope")
}

func TestSurveyTablesDedupeMatchesConstraint(t *testing.T) {
	for _, spec := range SurveyTables("analytics") {
		require.True(t, strings.HasPrefix(spec.Name, "analytics.survey_"), spec.Name)
		require.Len(t, spec.Constraints, 1)
		require.Equal(t, spec.Constraints[0].Columns, spec.Dedupe)

		names := map[string]bool{}
		for _, c := range spec.ColumnNames() {
			names[c] = true
		}
		for _, d := range spec.Dedupe {
			require.True(t, names[d], "%s: dedupe column %s missing", spec.Name, d)
		}
	}
}
