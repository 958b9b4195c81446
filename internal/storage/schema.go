package storage

// Logical column types. Each backend maps them to its own DDL type.
const (
	// TypeKey is short text usable inside a unique constraint.
	TypeKey = "key"
	// TypeText is unbounded text.
	TypeText = "text"
	TypeInt  = "int"
	TypeTime = "timestamp"
)

// Table names, before an optional schema qualifier.
const (
	MasterTable    = "survey_question_master"
	ResponsesTable = "survey_responses"
	ExtractsTable  = "survey_extracts"
)

// TableSpec describes one table to create.
type TableSpec struct {
	Name        string
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
	// Dedupe names the columns InsertRows dedupes on; it matches the unique
	// constraint.
	Dedupe []string
}

// ColumnNames returns the column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

type ConstraintSpec struct {
	Kind    string // "unique"
	Columns []string
}

func col(name, typ string) ColumnSpec      { return ColumnSpec{Name: name, Type: typ} }
func nullCol(name, typ string) ColumnSpec  { return ColumnSpec{Name: name, Type: typ, Nullable: true} }
func unique(cols ...string) ConstraintSpec { return ConstraintSpec{Kind: "unique", Columns: cols} }

// Qualify prefixes name with schema when schema is set.
func Qualify(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}

// SurveyTables returns the three export tables, optionally schema-qualified.
func SurveyTables(schema string) []TableSpec {
	return []TableSpec{
		{
			Name: Qualify(schema, MasterTable),
			Columns: []ColumnSpec{
				col("run_id", TypeKey),
				col("position", TypeInt),
				col("question_text", TypeText),
				col("first_source", TypeKey),
				col("source", TypeKey),
				col("code", TypeKey),
			},
			Constraints: []ConstraintSpec{unique("run_id", "position", "source")},
			Dedupe:      []string{"run_id", "position", "source"},
		},
		{
			Name: Qualify(schema, ResponsesTable),
			Columns: []ColumnSpec{
				col("run_id", TypeKey),
				col("row_hash", TypeKey),
				col("source", TypeKey),
				nullCol("row_no", TypeKey),
				nullCol("answered_at", TypeTime),
				col("column_position", TypeInt),
				col("column_name", TypeText),
				col("value", TypeText),
			},
			Constraints: []ConstraintSpec{unique("run_id", "row_hash", "column_position")},
			Dedupe:      []string{"run_id", "row_hash", "column_position"},
		},
		{
			Name: Qualify(schema, ExtractsTable),
			Columns: []ColumnSpec{
				col("run_id", TypeKey),
				col("recipient", TypeKey),
				col("code_scheme", TypeKey),
				col("position", TypeInt),
				col("column_name", TypeText),
				nullCol("question_text", TypeText),
				nullCol("source", TypeKey),
			},
			Constraints: []ConstraintSpec{unique("run_id", "recipient", "position")},
			Dedupe:      []string{"run_id", "recipient", "position"},
		},
	}
}
