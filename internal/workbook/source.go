package workbook

import (
	"context"
	"fmt"

	"surveyagg/internal/question"
	"surveyagg/internal/table"
)

// Layout locates the definition and response sheets inside a source book.
type Layout struct {
	DefinitionSheet string
	DataSheet       string
	// HeaderRow is the 1-based header row of the definition sheet. The data
	// sheet header is always row 1.
	HeaderRow       int
	CodeColumn      string
	TextColumn      string
	ConditionColumn string
	TypeColumn      string
}

// DefaultLayout matches the survey tool's export.
func DefaultLayout() Layout {
	return Layout{
		DefinitionSheet: "質問対応表",
		DataSheet:       "data",
		HeaderRow:       3,
		CodeColumn:      "番号",
		TextColumn:      "内容",
		ConditionColumn: "条件",
		TypeColumn:      "形式",
	}
}

// ReadDefinitions reads the definition sheet of b. Every row is returned;
// code filtering happens when the master is built. The code and text columns
// are required, condition and type are optional.
func ReadDefinitions(ctx context.Context, b Book, l Layout) (question.SourceDefinitions, error) {
	sd := question.SourceDefinitions{Source: b.Name()}
	t, err := b.Table(ctx, l.DefinitionSheet, l.HeaderRow)
	if err != nil {
		return sd, err
	}
	code, text := t.ColumnIndex(l.CodeColumn), t.ColumnIndex(l.TextColumn)
	if code < 0 || text < 0 {
		return sd, fmt.Errorf("%s: sheet %q needs columns %q and %q, have %q",
			b.Name(), l.DefinitionSheet, l.CodeColumn, l.TextColumn, t.Columns)
	}
	cond, typ := t.ColumnIndex(l.ConditionColumn), t.ColumnIndex(l.TypeColumn)
	for _, r := range t.Rows {
		sd.Rows = append(sd.Rows, question.Definition{
			Code:      cell(r, code),
			Text:      cell(r, text),
			Condition: cell(r, cond),
			Type:      cell(r, typ),
		})
	}
	return sd, nil
}

// ReadResponses reads the data sheet of b.
func ReadResponses(ctx context.Context, b Book, l Layout) (*table.Table, error) {
	return b.Table(ctx, l.DataSheet, 1)
}

func cell(r []any, i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return table.CellString(r[i])
}
