package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_JSONAppliesDefaults(t *testing.T) {
	raw := []byte(`{
		"job": "q3",
		"sources": {"location": "data"},
		"outputs": {"location": "result"}
	}`)

	p, err := Decode(raw, ".json")
	require.NoError(t, err)

	assert.Equal(t, "q3", p.Job)
	assert.Equal(t, DefaultDefinitionSheet, p.Sources.DefinitionSheet)
	assert.Equal(t, DefaultDataSheet, p.Sources.DataSheet)
	assert.Equal(t, DefaultHeaderRow, p.Sources.HeaderRow)
	assert.Equal(t, DefaultTimestampColumn, p.Sources.TimestampColumn)
	assert.Equal(t, MatchExact, p.Identity.Match)
	assert.Equal(t, SchemeFirstAppearance, p.Recipients.DefaultScheme)
	assert.Equal(t, 4, p.Runtime.RenameWorkers)
	assert.False(t, HasErrors(ValidatePipeline(p)))
}

func TestDecode_JSONRejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte(`{"sources": {"location": "x"}, "bogus": 1}`), ".json")
	require.Error(t, err)
}

func TestDecode_YAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("SURVEY_TEST_DSN", "file:test.db")
	raw := []byte(`
sources:
  location: data
  parser:
    comma: ";"
    encoding: shift_jis
identity:
  match: normalized
recipients:
  declarations: clients.xlsx
  baseline: ["あなたの年代を教えてください。"]
  schemes:
    ClientA: survey_b.xlsx
outputs:
  location: out
  storage:
    kind: sqlite
    dsn: ${SURVEY_TEST_DSN}
`)
	p, err := Decode(raw, ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "file:test.db", p.Outputs.Storage.DSN)
	assert.Equal(t, 500, p.Outputs.Storage.BatchSize)
	assert.Equal(t, ';', p.Sources.Parser.Rune("comma", ','))
	assert.Equal(t, "shift_jis", p.Sources.Parser.String("encoding", ""))
	assert.Equal(t, "survey_b.xlsx", p.Recipients.Schemes["ClientA"])
	assert.False(t, HasErrors(ValidatePipeline(p)))
}

func TestValidatePipeline_ReportsAllIssues(t *testing.T) {
	p := Pipeline{
		Sources:  SourcesConfig{Format: "pdf", CodePattern: "("},
		Identity: IdentityConfig{Match: "fuzzy"},
		Outputs:  OutputsConfig{Storage: &StorageConfig{Kind: "oracle"}},
	}
	p.ApplyDefaults()
	p.Sources.CodePattern = "("

	issues := ValidatePipeline(p)
	paths := map[string]bool{}
	for _, iss := range issues {
		paths[iss.Path] = true
	}
	for _, want := range []string{
		"sources.location", "sources.format", "sources.code_pattern",
		"identity.match", "outputs.location", "outputs.storage.kind", "outputs.storage.dsn",
	} {
		assert.Truef(t, paths[want], "missing issue for %s in %v", want, issues)
	}
	assert.True(t, HasErrors(issues))
}

func TestLoad_ReadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SURVEY_TEST_BUCKET=s3://bucket/in\n"), 0o644))
	cfgPath := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"sources":{"location":"${SURVEY_TEST_BUCKET}"},"outputs":{"location":"out"}}`), 0o644))
	t.Cleanup(func() { os.Unsetenv("SURVEY_TEST_BUCKET") })

	p, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/in", p.Sources.Location)
}

func TestOptions_Getters(t *testing.T) {
	o := Options{
		"has_header": "false",
		"comma":      `\t`,
		"limit":      float64(12),
		"header_map": map[string]any{"Ｎｏ": "NO"},
	}
	assert.False(t, o.Bool("has_header", true))
	assert.Equal(t, '\t', o.Rune("comma", ','))
	assert.Equal(t, 12, o.Int("limit", 0))
	assert.Equal(t, map[string]string{"Ｎｏ": "NO"}, o.StringMap("header_map"))
	assert.Equal(t, "x", o.String("missing", "x"))
}
