package config

import (
	"strconv"

	"opto-import/internal/loader"
	"opto-import/internal/pgload"
	"opto-import/internal/schema"
	"opto-import/internal/validate"
)

// Constants for source types, load modes and defaults.
const (
	SourceTypeCSV  = "csv"
	SourceTypeTSV  = "tsv"
	SourceTypeXLSX = "xlsx"
	SourceTypeXLS  = "xls"
	SourceTypeEDI  = "edi"

	RuleRequired = "required"
	RuleDecimal  = "decimal"
	RuleDate     = "date"
	RuleMaxLen   = "max_len"
	RuleOneOf    = "one_of"

	DefaultLogLevel    = "info"
	DefaultLoadMode    = string(pgload.ModeInsert)
	DefaultErrorBudget = validate.DefaultErrorBudget
)

// JobConfig defines the structure of an import job YAML file.
type JobConfig struct {
	// Logging specifies the verbosity level for the run.
	Logging LoggingConfig `yaml:"logging"`
	// Run names the audit-trail entry created for this job.
	Run RunConfig `yaml:"run"`
	// Source defines the input file and how to read it.
	Source SourceConfig `yaml:"source"`
	// Columns is the ordered target field list with its source locators and
	// conflict-key flags.
	Columns []ColumnConfig `yaml:"columns"`
	// AddFields injects extra fields evaluated once per row.
	AddFields map[string]AddFieldConfig `yaml:"addFields,omitempty"`
	// Rules lists per-field validation rules.
	Rules map[string][]RuleConfig `yaml:"rules,omitempty"`
	// Validation tunes the error budget.
	Validation ValidationConfig `yaml:"validation,omitempty"`
	// Destination defines the target relation and merge semantics.
	Destination DestinationConfig `yaml:"destination"`
}

// LoggingConfig holds the logging verbosity. Defaults to "info".
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RunConfig names the audit Run created for the job.
type RunConfig struct {
	Name        string `yaml:"name"`
	Application string `yaml:"application"`
	Flow        string `yaml:"flow"`
}

// SourceConfig details the input file properties. Environment variables in
// File are expanded.
type SourceConfig struct {
	// Type of the input. Inferred from the file extension when empty.
	Type string `yaml:"type,omitempty"`
	// File is the path to the input file. Required.
	File string `yaml:"file"`
	// Encoding declares the text encoding; auto-detected when empty.
	Encoding string `yaml:"encoding,omitempty"`
	// Delimiter for delimited text sources. Defaults to ";".
	Delimiter string `yaml:"delimiter,omitempty"`
	// Sheet selects a workbook sheet by name; first sheet when empty.
	Sheet string `yaml:"sheet,omitempty"`
	// FirstDataLine is the 1-based line of the first data row.
	FirstDataLine int `yaml:"firstDataLine,omitempty"`
	// StrictRows keeps blank rows instead of skipping them.
	StrictRows bool `yaml:"strictRows,omitempty"`
	// ExcludeRows skips rows whose cell at a source column index contains a
	// substring, case-insensitively.
	ExcludeRows map[int]string `yaml:"excludeRows,omitempty"`
	// StrictInvoiceCount enforces the declared invoice count of an EDI
	// interchange footer.
	StrictInvoiceCount bool `yaml:"strictInvoiceCount,omitempty"`
	// StrictLineCount enforces the per-invoice control counts of an EDI
	// document.
	StrictLineCount bool `yaml:"strictLineCount,omitempty"`
}

// ColumnConfig is one target field. Exactly one of Name, Index or
// Positional selects the addressing mode.
type ColumnConfig struct {
	// Field is the target column name. Required.
	Field string `yaml:"field"`
	// Name resolves the source column through the sanitized header.
	Name string `yaml:"name,omitempty"`
	// Index addresses a fixed 0-based source column.
	Index *int `yaml:"index,omitempty"`
	// Positional maps the field onto source columns in declared order.
	Positional bool `yaml:"positional,omitempty"`
	// Key marks the field as part of the conflict key.
	Key bool `yaml:"key,omitempty"`
}

// AddFieldConfig is one injected field: a literal, a fresh UUID per row, or
// an expression over the already-resolved fields.
type AddFieldConfig struct {
	Constant   *string `yaml:"constant,omitempty"`
	UUID       bool    `yaml:"uuid,omitempty"`
	Expression string  `yaml:"expression,omitempty"`
}

// RuleConfig is one declarative field rule.
type RuleConfig struct {
	// Type is one of required, decimal, date, max_len, one_of.
	Type string `yaml:"type"`
	// Arg carries the rule parameter: the date layout or the max length.
	Arg string `yaml:"arg,omitempty"`
	// Args carries the allowed set for one_of.
	Args []string `yaml:"args,omitempty"`
}

// ValidationConfig tunes the validation pass.
type ValidationConfig struct {
	// ErrorBudget is the number of field errors tolerated before the run is
	// treated as fatal. Defaults to DefaultErrorBudget.
	ErrorBudget int `yaml:"errorBudget,omitempty"`
}

// DestinationConfig defines the target relation. Environment variables in
// DSN are expanded; the DSN is masked whenever it is logged.
type DestinationConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
	// Mode is one of insert, do_nothing, upsert.
	Mode string `yaml:"mode,omitempty"`
}

// Schema materializes the TargetSchema declared by the column list.
func (c *JobConfig) Schema() schema.TargetSchema {
	fields := make([]schema.Field, len(c.Columns))
	for i, col := range c.Columns {
		f := schema.Field{Name: col.Field, ConflictKey: col.Key}
		switch {
		case col.Name != "":
			f.Source = schema.ByName(col.Name)
		case col.Index != nil:
			f.Source = schema.ByIndex(*col.Index)
		default:
			f.Source = schema.Positional()
		}
		fields[i] = f
	}
	return schema.TargetSchema{Fields: fields}
}

// LoaderOptions materializes the loader options, compiling the injected
// field sources.
func (c *JobConfig) LoaderOptions() (loader.Options, error) {
	opts := loader.Options{
		FirstDataLine: c.Source.FirstDataLine,
		Strict:        c.Source.StrictRows,
		ExcludeRows:   c.Source.ExcludeRows,
	}
	if len(c.AddFields) > 0 {
		opts.AddFields = make(map[string]schema.FieldSource, len(c.AddFields))
		for name, af := range c.AddFields {
			src, err := af.compile()
			if err != nil {
				return opts, err
			}
			opts.AddFields[name] = src
		}
	}
	return opts, nil
}

func (af AddFieldConfig) compile() (schema.FieldSource, error) {
	switch {
	case af.Constant != nil:
		return schema.Constant(*af.Constant), nil
	case af.UUID:
		return schema.NewUUIDField(), nil
	default:
		return schema.NewExpr(af.Expression)
	}
}

// ValidationRules materializes the declarative rule set.
func (c *JobConfig) ValidationRules() validate.Rules {
	rules := make(validate.Rules, len(c.Rules))
	for field, list := range c.Rules {
		for _, rc := range list {
			rules[field] = append(rules[field], rc.compile())
		}
	}
	return rules
}

func (rc RuleConfig) compile() validate.Rule {
	switch rc.Type {
	case RuleRequired:
		return validate.Required()
	case RuleDecimal:
		return validate.Decimal()
	case RuleDate:
		return validate.Date(rc.Arg)
	case RuleMaxLen:
		n, _ := strconv.Atoi(rc.Arg) // validated in ValidateConfig
		return validate.MaxLen(n)
	default:
		return validate.OneOf(rc.Args...)
	}
}

// Mode returns the configured load mode.
func (c *JobConfig) Mode() pgload.Mode {
	return pgload.Mode(c.Destination.Mode)
}
