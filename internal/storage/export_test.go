package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"surveyagg/internal/aggregate"
	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

type bufLogger struct{ lines []string }

func (b *bufLogger) Printf(format string, v ...any) {
	b.lines = append(b.lines, strings.TrimSpace(format))
}

func fixture(t *testing.T) (*question.Master, *aggregate.Dataset) {
	t.Helper()
	m, _, err := question.Build([]question.SourceDefinitions{
		{Source: "A.xlsx", Rows: []question.Definition{{Code: "Q-1", Text: "Age?"}, {Code: "Q-2", Text: "Opinion?"}}},
		{Source: "B.xlsx", Rows: []question.Definition{{Code: "Q-A1", Text: "Age?"}}},
	}, question.Options{})
	require.NoError(t, err)

	cols := aggregate.DefaultColumns()
	a := table.New("A.xlsx", []string{"NO", "回答日時", "Q-1", "Q-2_1"})
	a.Append([]any{"1", "2024-01-01 09:00:00", "20s", ""})
	a.Append([]any{"2", "2024-01-03 09:00:00", "40s", "good"})
	b := table.New("B.xlsx", []string{"NO", "回答日時", "Q-A1"})
	b.Append([]any{"1", "2024-01-02 10:00:00", "30s"})

	ra, _ := aggregate.Rename(a, "A.xlsx", m, cols)
	rb, _ := aggregate.Rename(b, "B.xlsx", m, cols)
	d, _, err := aggregate.Merge([]aggregate.Input{{Source: "A.xlsx", Table: ra}, {Source: "B.xlsx", Table: rb}}, cols)
	require.NoError(t, err)
	return m, d
}

func TestExportMaster(t *testing.T) {
	m, _ := fixture(t)
	repo := newFakeRepo()
	ex := &Exporter{Repo: repo, RunID: "run-1"}

	st, err := ex.ExportMaster(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, 3, st.Offered)
	require.EqualValues(t, 3, st.Inserted)

	got := repo.rows[MasterTable]
	require.Equal(t, []any{"run-1", 1, "Age?", "A.xlsx", "A.xlsx", "Q-1"}, got[0])
	require.Equal(t, []any{"run-1", 1, "Age?", "A.xlsx", "B.xlsx", "Q-A1"}, got[1])
	require.Equal(t, []any{"run-1", 2, "Opinion?", "A.xlsx", "A.xlsx", "Q-2"}, got[2])
}

func TestExportDatasetLongFormatAndIdempotent(t *testing.T) {
	_, d := fixture(t)
	repo := newFakeRepo()
	log := &bufLogger{}
	ex := &Exporter{Repo: repo, RunID: "run-1", BatchSize: 2, Logger: log}

	st, err := ex.ExportDataset(context.Background(), d)
	require.NoError(t, err)
	// Three answers for Age? plus one non-blank Opinion?_1.
	require.Equal(t, 4, st.Offered)
	require.EqualValues(t, 4, st.Inserted)
	require.Equal(t, 2, repo.calls)
	require.Len(t, log.lines, 1)
	require.Contains(t, log.lines[0], "stage=store")

	rows := repo.rows[ResponsesTable]
	first := rows[0]
	require.Equal(t, "A.xlsx", first[2])
	require.Equal(t, "1", first[3])
	require.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), first[4])
	require.Equal(t, "Age?", first[6])
	require.Equal(t, "20s", first[7])
	require.Len(t, first[1], 64)

	hashes := map[any]bool{}
	for _, r := range rows {
		hashes[r[1]] = true
		require.NotEqual(t, "NO", r[6])
		require.NotEqual(t, "回答日時", r[6])
	}
	require.Len(t, hashes, 3)

	st, err = ex.ExportDataset(context.Background(), d)
	require.NoError(t, err)
	require.EqualValues(t, 0, st.Inserted)
}

func TestExportExtract(t *testing.T) {
	m, d := fixture(t)
	r := aggregate.GroupRecipients([]aggregate.Declaration{{Recipient: "Client", Text: "Opinion?"}, {Recipient: "Client", Text: "Age?"}}, nil, nil, "")
	sel, _, err := aggregate.Select(d, r[0], m)
	require.NoError(t, err)
	x, _ := aggregate.Reencode(sel, m)

	repo := newFakeRepo()
	ex := &Exporter{Repo: repo, RunID: "run-1"}
	st, err := ex.ExportExtract(context.Background(), x)
	require.NoError(t, err)
	require.Equal(t, len(x.Table.Columns), st.Offered)

	byLabel := map[any][]any{}
	for _, row := range repo.rows[ExtractsTable] {
		require.Equal(t, "Client", row[1])
		byLabel[row[4]] = row
	}
	require.Equal(t, "Age?", byLabel["Q-1"][5])
	require.Equal(t, "Opinion?", byLabel["Q-2_1"][5])
	require.Nil(t, byLabel["NO"][5])
}

func TestExportPropagatesRepositoryError(t *testing.T) {
	m, _ := fixture(t)
	boom := errors.New("db down")
	repo := newFakeRepo()
	repo.err = boom
	ex := &Exporter{Repo: repo, RunID: "run-1", Schema: "s"}

	require.ErrorIs(t, ex.Ensure(context.Background()), boom)
	_, err := ex.ExportMaster(context.Background(), m)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "s.survey_question_master")
}

func TestExportStopsOnCancelledContext(t *testing.T) {
	m, _ := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Exporter{Repo: newFakeRepo(), RunID: "r"}).ExportMaster(ctx, m)
	require.ErrorIs(t, err, context.Canceled)
}
