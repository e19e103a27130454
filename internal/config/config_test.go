package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opto-import/internal/pgload"
	"opto-import/internal/schema"
)

const validJob = `
logging:
  level: debug
run:
  name: acme invoices
  application: imports
  flow: invoice
source:
  file: $IMPORT_DIR/invoices.csv
  firstDataLine: 2
  excludeRows:
    0: total
columns:
  - field: reference
    name: "Réf. Client"
    key: true
  - field: quantity
    name: QTY
addFields:
  import_batch:
    constant: B-7
  row_uid:
    uuid: true
rules:
  reference:
    - type: required
  quantity:
    - type: decimal
    - type: max_len
      arg: "12"
validation:
  errorBudget: 50
destination:
  dsn: postgres://app:$DB_PASSWORD@db/opto
  table: invoice_line
  mode: upsert
`

func writeJob(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigValid(t *testing.T) {
	t.Setenv("IMPORT_DIR", "/data/in")
	t.Setenv("DB_PASSWORD", "s3cret")

	cfg, err := LoadConfig(writeJob(t, validJob))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Source.File != "/data/in/invoices.csv" {
		t.Errorf("Source.File = %q, env expansion failed", cfg.Source.File)
	}
	if cfg.Destination.DSN != "postgres://app:s3cret@db/opto" {
		t.Errorf("Destination.DSN = %q, env expansion failed", cfg.Destination.DSN)
	}
	if cfg.Source.Type != SourceTypeCSV {
		t.Errorf("Source.Type = %q, want inferred csv", cfg.Source.Type)
	}
	if cfg.Source.Delimiter != ";" {
		t.Errorf("Source.Delimiter = %q, want default ;", cfg.Source.Delimiter)
	}
	if cfg.Validation.ErrorBudget != 50 {
		t.Errorf("ErrorBudget = %d, want 50", cfg.Validation.ErrorBudget)
	}
	if cfg.Mode() != pgload.ModeUpsert {
		t.Errorf("Mode() = %q, want upsert", cfg.Mode())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	job := `
run:
  name: minimal
source:
  file: in.csv
columns:
  - field: reference
    positional: true
destination:
  dsn: postgres://db/opto
  table: t
`
	cfg, err := LoadConfig(writeJob(t, job))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, DefaultLogLevel)
	}
	if cfg.Destination.Mode != DefaultLoadMode {
		t.Errorf("Destination.Mode = %q, want %q", cfg.Destination.Mode, DefaultLoadMode)
	}
	if cfg.Validation.ErrorBudget != DefaultErrorBudget {
		t.Errorf("ErrorBudget = %d, want %d", cfg.Validation.ErrorBudget, DefaultErrorBudget)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			"missing run name",
			func(s string) string { return strings.Replace(s, "name: acme invoices", "name: \"\"", 1) },
			"Run.Name",
		},
		{
			"unknown mode",
			func(s string) string { return strings.Replace(s, "mode: upsert", "mode: merge", 1) },
			"invalid mode",
		},
		{
			"upsert without key",
			func(s string) string { return strings.Replace(s, "key: true", "key: false", 1) },
			"requires at least one column marked as key",
		},
		{
			"bad rule type",
			func(s string) string { return strings.Replace(s, "type: decimal", "type: numeric", 1) },
			"invalid rule type",
		},
		{
			"bad max_len arg",
			func(s string) string { return strings.Replace(s, `arg: "12"`, `arg: "many"`, 1) },
			"positive integer",
		},
		{
			"rules on undeclared field",
			func(s string) string { return strings.Replace(s, "  reference:\n    - type: required\n", "  ghost:\n    - type: required\n", 1) },
			"undeclared field",
		},
		{
			"ambiguous column addressing",
			func(s string) string {
				return strings.Replace(s, "name: QTY", "name: QTY\n    positional: true", 1)
			},
			"mutually exclusive",
		},
		{
			"bad expression",
			func(s string) string {
				return strings.Replace(s, "uuid: true", `expression: "reference +"`, 1)
			},
			"invalid expression",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeJob(t, tt.mutate(validJob)))
			if err == nil {
				t.Fatal("LoadConfig() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaFromColumns(t *testing.T) {
	idx := 3
	cfg := &JobConfig{Columns: []ColumnConfig{
		{Field: "a", Name: "Col A", Key: true},
		{Field: "b", Index: &idx},
		{Field: "c", Positional: true},
	}}
	ts := cfg.Schema()
	if ts.Fields[0].Source.Kind != schema.LocatorName || !ts.Fields[0].ConflictKey {
		t.Errorf("field a = %+v", ts.Fields[0])
	}
	if ts.Fields[1].Source.Kind != schema.LocatorIndex || ts.Fields[1].Source.Index != 3 {
		t.Errorf("field b = %+v", ts.Fields[1])
	}
	if ts.Fields[2].Source.Kind != schema.LocatorPositional {
		t.Errorf("field c = %+v", ts.Fields[2])
	}
}

func TestLoaderOptionsCompilesSources(t *testing.T) {
	t.Setenv("IMPORT_DIR", "/in")
	t.Setenv("DB_PASSWORD", "x")
	cfg, err := LoadConfig(writeJob(t, validJob))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.LoaderOptions()
	if err != nil {
		t.Fatalf("LoaderOptions() error: %v", err)
	}
	if len(opts.AddFields) != 2 {
		t.Fatalf("got %d add fields, want 2", len(opts.AddFields))
	}
	rec := schema.NewRecord(1, []string{"import_batch"})
	v, err := opts.AddFields["import_batch"].Value(rec)
	if err != nil || v != "B-7" {
		t.Errorf("constant field = %q, %v", v, err)
	}

	rules := cfg.ValidationRules()
	if len(rules["quantity"]) != 2 {
		t.Errorf("got %d quantity rules, want 2", len(rules["quantity"]))
	}
}

func TestMaskedHidesPasswords(t *testing.T) {
	t.Setenv("IMPORT_DIR", "/data/in")
	t.Setenv("DB_PASSWORD", "s3cret")

	cfg, err := LoadConfig(writeJob(t, validJob))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	m := cfg.Masked()
	if m == nil {
		t.Fatal("Masked() returned nil")
	}
	dest, ok := m["destination"].(map[string]interface{})
	if !ok {
		t.Fatalf("destination section missing: %v", m)
	}
	dsn, _ := dest["dsn"].(string)
	if strings.Contains(dsn, "s3cret") {
		t.Errorf("dsn = %q, password must not survive masking", dsn)
	}
	if !strings.Contains(dsn, "********") {
		t.Errorf("dsn = %q, want the password placeholder", dsn)
	}
}
