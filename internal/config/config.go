// Package config defines the aggregation run document and its loading rules.
//
// A run is described by one JSON or YAML file (chosen by extension). Values may
// reference environment variables as ${NAME}; a .env file next to the config
// (and one in the working directory) is loaded first so DSNs and bucket names
// can stay out of the document.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the layout of the survey tool exports this pipeline was
// built around.
const (
	DefaultDefinitionSheet = "質問対応表"
	DefaultDataSheet       = "data"
	DefaultHeaderRow       = 3
	DefaultCodeColumn      = "番号"
	DefaultTextColumn      = "内容"
	DefaultConditionColumn = "条件"
	DefaultTypeColumn      = "形式"
	DefaultCodePattern     = `^Q-[0-9A-Za-z]+`
	DefaultRowIDColumn     = "NO"
	DefaultTimestampColumn = "回答日時"

	DefaultRecipientColumn = "クライアント名"
	DefaultQuestionColumn  = "集計対象の質問文"

	MatchExact      = "exact"
	MatchNormalized = "normalized"

	SchemeFirstAppearance = "first_appearance"
	SchemeBase            = "base"
)

// Pipeline is the top-level run document.
type Pipeline struct {
	Job        string           `json:"job" yaml:"job"`
	Sources    SourcesConfig    `json:"sources" yaml:"sources"`
	Identity   IdentityConfig   `json:"identity" yaml:"identity"`
	Recipients RecipientsConfig `json:"recipients" yaml:"recipients"`
	Outputs    OutputsConfig    `json:"outputs" yaml:"outputs"`
	Runtime    RuntimeConfig    `json:"runtime" yaml:"runtime"`
}

// SourcesConfig says where the per-source workbooks live and how to read them.
type SourcesConfig struct {
	// Location is a directory or an s3://bucket/prefix URL.
	Location string `json:"location" yaml:"location"`
	// Files optionally restricts the run to these names under Location.
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
	// Format forces a reader: "xlsx", "html" or "csv". Empty means by extension.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	DefinitionSheet string `json:"definition_sheet,omitempty" yaml:"definition_sheet,omitempty"`
	DataSheet       string `json:"data_sheet,omitempty" yaml:"data_sheet,omitempty"`
	// HeaderRow is the 1-based row holding the definition sheet header.
	HeaderRow int `json:"header_row,omitempty" yaml:"header_row,omitempty"`

	CodeColumn      string `json:"code_column,omitempty" yaml:"code_column,omitempty"`
	TextColumn      string `json:"text_column,omitempty" yaml:"text_column,omitempty"`
	ConditionColumn string `json:"condition_column,omitempty" yaml:"condition_column,omitempty"`
	TypeColumn      string `json:"type_column,omitempty" yaml:"type_column,omitempty"`
	CodePattern     string `json:"code_pattern,omitempty" yaml:"code_pattern,omitempty"`

	RowIDColumn     string `json:"row_id_column,omitempty" yaml:"row_id_column,omitempty"`
	TimestampColumn string `json:"timestamp_column,omitempty" yaml:"timestamp_column,omitempty"`

	// Parser carries reader options (csv: comma, encoding, lazy_quotes...).
	Parser Options `json:"parser,omitempty" yaml:"parser,omitempty"`
}

// IdentityConfig controls how question texts are matched across sources.
type IdentityConfig struct {
	// Match is "exact" (default) or "normalized".
	Match string `json:"match,omitempty" yaml:"match,omitempty"`
	// BaseSource overrides the lexicographically first source as ordering base.
	BaseSource string `json:"base_source,omitempty" yaml:"base_source,omitempty"`
}

// RecipientsConfig describes who receives extracts and in which code scheme.
type RecipientsConfig struct {
	// Declarations is a xlsx, csv or json file of (recipient, question) rows.
	Declarations   string `json:"declarations" yaml:"declarations"`
	Sheet          string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	NameColumn     string `json:"name_column,omitempty" yaml:"name_column,omitempty"`
	QuestionColumn string `json:"question_column,omitempty" yaml:"question_column,omitempty"`

	// Baseline texts are selected for every recipient.
	Baseline []string `json:"baseline,omitempty" yaml:"baseline,omitempty"`

	// DefaultScheme is "first_appearance" (default), "base", or a source name.
	DefaultScheme string `json:"default_scheme,omitempty" yaml:"default_scheme,omitempty"`
	// Schemes maps recipient name -> preferred source for re-encoding.
	Schemes map[string]string `json:"schemes,omitempty" yaml:"schemes,omitempty"`
}

// OutputsConfig says where results go.
type OutputsConfig struct {
	// Location is a directory or an s3://bucket/prefix URL.
	Location    string         `json:"location" yaml:"location"`
	WriteMaster bool           `json:"write_master" yaml:"write_master"`
	WriteMerged bool           `json:"write_merged" yaml:"write_merged"`
	Storage     *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// StorageConfig selects an optional SQL export backend.
type StorageConfig struct {
	// Kind: "postgres" | "sqlite" | "mssql"
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
	// BatchSize bounds rows per INSERT statement.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// RuntimeConfig controls execution behavior.
type RuntimeConfig struct {
	RenameWorkers  int `json:"rename_workers,omitempty" yaml:"rename_workers,omitempty"`
	ExtractWorkers int `json:"extract_workers,omitempty" yaml:"extract_workers,omitempty"`
	// DebugTimings logs per-source and per-recipient durations.
	DebugTimings bool `json:"debug_timings,omitempty" yaml:"debug_timings,omitempty"`
}

// Load reads a pipeline document, applying .env files, ${ENV} expansion and
// defaults. It does not validate; call ValidatePipeline for that.
func Load(path string) (Pipeline, error) {
	loadDotEnv(filepath.Dir(path))

	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}

	p, err := Decode(raw, filepath.Ext(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// Decode parses raw as YAML when ext is .yaml/.yml and as JSON otherwise,
// then expands environment references and fills defaults.
func Decode(raw []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return p, err
		}
	default:
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return p, err
		}
	}
	p.expandEnv()
	p.ApplyDefaults()
	return p, nil
}

// loadDotEnv loads .env.local and .env from dir and the working directory.
// Existing environment variables win; missing files are ignored.
func loadDotEnv(dir string) {
	seen := map[string]bool{}
	for _, d := range []string{dir, "."} {
		for _, name := range []string{".env.local", ".env"} {
			p := filepath.Clean(filepath.Join(d, name))
			if seen[p] {
				continue
			}
			seen[p] = true
			if _, err := os.Stat(p); err == nil {
				_ = godotenv.Load(p)
			}
		}
	}
}

func (p *Pipeline) expandEnv() {
	p.Sources.Location = os.ExpandEnv(p.Sources.Location)
	p.Recipients.Declarations = os.ExpandEnv(p.Recipients.Declarations)
	p.Outputs.Location = os.ExpandEnv(p.Outputs.Location)
	if p.Outputs.Storage != nil {
		p.Outputs.Storage.DSN = os.ExpandEnv(p.Outputs.Storage.DSN)
	}
}

// ApplyDefaults fills every unset field with its documented default.
func (p *Pipeline) ApplyDefaults() {
	s := &p.Sources
	setDefault(&s.DefinitionSheet, DefaultDefinitionSheet)
	setDefault(&s.DataSheet, DefaultDataSheet)
	if s.HeaderRow <= 0 {
		s.HeaderRow = DefaultHeaderRow
	}
	setDefault(&s.CodeColumn, DefaultCodeColumn)
	setDefault(&s.TextColumn, DefaultTextColumn)
	setDefault(&s.ConditionColumn, DefaultConditionColumn)
	setDefault(&s.TypeColumn, DefaultTypeColumn)
	setDefault(&s.CodePattern, DefaultCodePattern)
	setDefault(&s.RowIDColumn, DefaultRowIDColumn)
	setDefault(&s.TimestampColumn, DefaultTimestampColumn)

	setDefault(&p.Identity.Match, MatchExact)

	r := &p.Recipients
	setDefault(&r.NameColumn, DefaultRecipientColumn)
	setDefault(&r.QuestionColumn, DefaultQuestionColumn)
	setDefault(&r.DefaultScheme, SchemeFirstAppearance)

	if p.Runtime.RenameWorkers <= 0 {
		p.Runtime.RenameWorkers = 4
	}
	if p.Runtime.ExtractWorkers <= 0 {
		p.Runtime.ExtractWorkers = 4
	}
	if st := p.Outputs.Storage; st != nil && st.BatchSize <= 0 {
		st.BatchSize = 500
	}
	if p.Job == "" {
		p.Job = "survey_aggregation"
	}
}

func setDefault(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}
