// Package config loads and validates the YAML job definition for one
// import. A job names its audit run, declares the source file and target
// schema, and selects the merge semantics.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"opto-import/internal/util"
)

// LoadConfig reads, parses, and validates a job definition file. Defaults
// are applied before validation.
func LoadConfig(filename string) (*JobConfig, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	var cfg JobConfig
	if err := yaml.Unmarshal(fileBytes, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults sets default values and expands environment references.
func applyDefaults(cfg *JobConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	cfg.Source.File = util.ExpandEnvUniversal(cfg.Source.File)
	cfg.Destination.DSN = util.ExpandEnvUniversal(cfg.Destination.DSN)

	if cfg.Source.Type == "" {
		cfg.Source.Type = strings.TrimPrefix(strings.ToLower(filepath.Ext(cfg.Source.File)), ".")
		if cfg.Source.Type == "txt" {
			cfg.Source.Type = SourceTypeCSV
		}
	}
	if cfg.Source.Delimiter == "" {
		cfg.Source.Delimiter = ";"
	}
	if cfg.Destination.Mode == "" {
		cfg.Destination.Mode = DefaultLoadMode
	}
	if cfg.Validation.ErrorBudget == 0 {
		cfg.Validation.ErrorBudget = DefaultErrorBudget
	}
}

// Masked renders the job definition as a generic map with passwords and
// sensitive values masked, for logging.
func (cfg *JobConfig) Masked() map[string]interface{} {
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(encoded, &m); err != nil {
		return nil
	}
	return util.MaskSensitiveData(m)
}
