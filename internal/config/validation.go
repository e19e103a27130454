package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"opto-import/internal/pgload"
)

// Known valid enum values for configuration fields.
var (
	knownLogLevels   = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownSourceTypes = []string{SourceTypeCSV, SourceTypeTSV, SourceTypeXLSX, SourceTypeXLS, SourceTypeEDI}
	knownLoadModes   = []string{string(pgload.ModeInsert), string(pgload.ModeDoNothing), string(pgload.ModeUpsert)}
	knownRuleTypes   = []string{RuleRequired, RuleDecimal, RuleDate, RuleMaxLen, RuleOneOf}
)

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of a job definition.
func ValidateConfig(cfg *JobConfig) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}
	if cfg.Run.Name == "" {
		allErrors = append(allErrors, "- Config.Run.Name: run name is required")
	}

	if cfg.Source.File == "" {
		allErrors = append(allErrors, "- Config.Source.File: source file path is required")
	}
	if !isValidEnumValue(cfg.Source.Type, knownSourceTypes) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Source.Type: invalid source type '%s', must be one of %v", cfg.Source.Type, knownSourceTypes))
	}
	if len([]rune(cfg.Source.Delimiter)) != 1 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Source.Delimiter: must be a single character, got '%s'", cfg.Source.Delimiter))
	}
	if cfg.Source.FirstDataLine < 0 {
		allErrors = append(allErrors, "- Config.Source.FirstDataLine: must not be negative")
	}

	allErrors = append(allErrors, validateColumns(cfg)...)
	allErrors = append(allErrors, validateAddFields(cfg)...)
	allErrors = append(allErrors, validateRules(cfg)...)

	if cfg.Destination.Table == "" {
		allErrors = append(allErrors, "- Config.Destination.Table: target table is required")
	}
	if cfg.Destination.DSN == "" {
		allErrors = append(allErrors, "- Config.Destination.DSN: connection string is required")
	}
	if !isValidEnumValue(cfg.Destination.Mode, knownLoadModes) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Destination.Mode: invalid mode '%s', must be one of %v", cfg.Destination.Mode, knownLoadModes))
	} else if cfg.Destination.Mode != string(pgload.ModeInsert) && len(cfg.Schema().ConflictKeys()) == 0 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Destination.Mode: mode '%s' requires at least one column marked as key", cfg.Destination.Mode))
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	return nil
}

func validateColumns(cfg *JobConfig) []string {
	var errs []string
	if len(cfg.Columns) == 0 {
		errs = append(errs, "- Config.Columns: at least one column is required")
	}
	seen := make(map[string]bool, len(cfg.Columns))
	for i, col := range cfg.Columns {
		prefix := fmt.Sprintf("- Config.Columns[%d]", i)
		if col.Field == "" {
			errs = append(errs, prefix+": field name is required")
			continue
		}
		if seen[col.Field] {
			errs = append(errs, fmt.Sprintf("%s: duplicate field '%s'", prefix, col.Field))
		}
		seen[col.Field] = true
		modes := 0
		if col.Name != "" {
			modes++
		}
		if col.Index != nil {
			modes++
			if *col.Index < 0 {
				errs = append(errs, fmt.Sprintf("%s: index must not be negative", prefix))
			}
		}
		if col.Positional {
			modes++
		}
		if modes > 1 {
			errs = append(errs, fmt.Sprintf("%s: name, index and positional are mutually exclusive", prefix))
		}
	}
	return errs
}

func validateAddFields(cfg *JobConfig) []string {
	var errs []string
	for name, af := range cfg.AddFields {
		prefix := fmt.Sprintf("- Config.AddFields[%s]", name)
		modes := 0
		if af.Constant != nil {
			modes++
		}
		if af.UUID {
			modes++
		}
		if af.Expression != "" {
			modes++
			if _, err := govaluate.NewEvaluableExpression(af.Expression); err != nil {
				errs = append(errs, fmt.Sprintf("%s: invalid expression syntax: %v", prefix, err))
			}
		}
		if modes != 1 {
			errs = append(errs, prefix+": exactly one of constant, uuid or expression is required")
		}
	}
	return errs
}

func validateRules(cfg *JobConfig) []string {
	var errs []string
	declared := make(map[string]bool, len(cfg.Columns))
	for _, col := range cfg.Columns {
		declared[col.Field] = true
	}
	for name := range cfg.AddFields {
		declared[name] = true
	}

	for field, list := range cfg.Rules {
		prefix := fmt.Sprintf("- Config.Rules[%s]", field)
		if !declared[field] {
			errs = append(errs, fmt.Sprintf("%s: rules reference undeclared field '%s'", prefix, field))
		}
		for _, rc := range list {
			if !isValidEnumValue(rc.Type, knownRuleTypes) {
				errs = append(errs, fmt.Sprintf("%s: invalid rule type '%s', must be one of %v", prefix, rc.Type, knownRuleTypes))
				continue
			}
			switch rc.Type {
			case RuleMaxLen:
				if n, err := strconv.Atoi(rc.Arg); err != nil || n <= 0 {
					errs = append(errs, fmt.Sprintf("%s: max_len requires a positive integer arg, got '%s'", prefix, rc.Arg))
				}
			case RuleDate:
				if rc.Arg == "" {
					errs = append(errs, prefix+": date requires a layout arg")
				}
			case RuleOneOf:
				if len(rc.Args) == 0 {
					errs = append(errs, prefix+": one_of requires a non-empty args list")
				}
			}
		}
	}
	return errs
}
