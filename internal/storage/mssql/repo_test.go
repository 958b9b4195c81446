package mssql

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"surveyagg/internal/storage"
)

func TestDedupeRowsByColumns_StableAndCorrect(t *testing.T) {
	columns := []string{"run_id", "row_hash", "column_position", "value"}
	dedupeCols := []string{"run_id", "row_hash", "column_position"}

	rows := [][]any{
		{"r1", "h1", 1, "20s"},
		{"r1", "h1", 1, "30s"}, // duplicate key
		{"r1", "h2", 1, "40s"},
		{"r1", "h1", 1, "50s"}, // duplicate key
		{"r1", "h1", 2, "good"},
	}
	got, err := dedupeRowsByColumns(rows, columns, dedupeCols)
	if err != nil {
		t.Fatalf("dedupeRowsByColumns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows=%d, want 3", len(got))
	}
	if got[0][3] != "20s" || got[1][1] != "h2" || got[2][2] != 2 {
		t.Fatalf("unexpected rows: %v", got)
	}
}

func TestDedupeRowsByColumns_TypedKeys(t *testing.T) {
	got, err := dedupeRowsByColumns([][]any{{1}, {"1"}}, []string{"a"}, []string{"a"})
	if err != nil || len(got) != 2 {
		t.Fatalf("int 1 and string \"1\" must differ: got=%v err=%v", got, err)
	}
}

func TestDedupeRowsByColumns_MissingColumnErrors(t *testing.T) {
	if _, err := dedupeRowsByColumns([][]any{{1, 2}}, []string{"a", "b"}, []string{"missing"}); err == nil {
		t.Fatalf("expected error for missing dedupe column")
	}
}

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeDB struct {
	queries []string
	nargs   []int
}

func (f *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, q)
	f.nargs = append(f.nargs, len(args))
	return fakeResult(len(args)), nil
}

func (f *fakeDB) Close() error { return nil }

func TestBuildCreateSQL_SurveyTable(t *testing.T) {
	q, err := buildCreateSQL(storage.SurveyTables("dbo")[1])
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'dbo.survey_responses', N'U') IS NULL",
		"CREATE TABLE [dbo].[survey_responses]",
		"[run_id] NVARCHAR(450) NOT NULL",
		"[answered_at] DATETIME2 NULL",
		"[value] NVARCHAR(MAX) NOT NULL",
		"UNIQUE ([run_id], [row_hash], [column_position])",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("ddl missing %q: %s", want, q)
		}
	}
}

func TestBuildInsertNotExistsSQL(t *testing.T) {
	q, args := buildInsertNotExistsSQL("dbo.t", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}}, []string{"a"})
	want := "INSERT INTO [dbo].[t] ([a], [b]) SELECT v.[a], v.[b] FROM (VALUES (@p1, @p2), (@p3, @p4)) AS v([a], [b]) " +
		"WHERE NOT EXISTS (SELECT 1 FROM [dbo].[t] t WHERE t.[a] = v.[a])"
	if q != want {
		t.Fatalf("sql:\n got %s\nwant %s", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("args=%d", len(args))
	}
}

func TestInsertRowsChunksUnderParameterLimit(t *testing.T) {
	db := &fakeDB{}
	r := &Repo{db: db}

	cols := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	rows := make([][]any, 600)
	for i := range rows {
		rows[i] = []any{i, 0, 0, 0, 0, 0, 0, 0}
	}
	n, err := r.InsertRows(context.Background(), "t", cols, rows, []string{"a"})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if len(db.queries) != 3 {
		t.Fatalf("statements=%d, want 3", len(db.queries))
	}
	for _, k := range db.nargs {
		if k > 2100 {
			t.Fatalf("statement with %d params", k)
		}
	}
	if n != int64(600*len(cols)) {
		t.Fatalf("n=%d", n)
	}
}
