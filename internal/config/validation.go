package config

import (
	"fmt"
	"strings"

	"fieldops-etl/internal/handbook"
	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/production"
	"fieldops-etl/internal/transform"
	"fieldops-etl/internal/util"

	"github.com/Knetic/govaluate"
	"github.com/robfig/cron/v3"
)

var knownLogLevels = []string{"none", "error", "warn", "warning", "info", "debug"}

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

// ValidateConfig checks every section and reports all problems at once.
func ValidateConfig(cfg *Config) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}

	if cfg.Database.Timeout < 0 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Database.Timeout: must not be negative, got %s", cfg.Database.Timeout))
	}
	if cfg.Database.BatchSize < 0 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Database.BatchSize: must not be negative, got %d", cfg.Database.BatchSize))
	}
	if cfg.Lock.RedisURL != "" && !strings.HasPrefix(cfg.Lock.RedisURL, "redis://") && !strings.HasPrefix(cfg.Lock.RedisURL, "rediss://") {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Lock.RedisURL: must use the redis:// or rediss:// scheme, got '%s'", util.MaskCredentials(cfg.Lock.RedisURL)))
	}

	handbookKeys := make([]string, 0, 3)
	for _, e := range handbook.Entities() {
		handbookKeys = append(handbookKeys, string(e))
	}
	allErrors = append(allErrors, validateImportConfig("Config.Imports.Handbook", &cfg.Imports.Handbook, handbookKeys)...)
	allErrors = append(allErrors, validateImportConfig("Config.Imports.Production", &cfg.Imports.Production, production.RequiredColumns())...)
	for _, sheet := range cfg.Imports.Production.Sheets {
		if _, err := production.SheetMonth(sheet); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("- Config.Imports.Production.Sheets: %v", err))
		}
	}

	if cfg.Report.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Report.Schedule); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("- Config.Report.Schedule: invalid cron spec '%s': %v", cfg.Report.Schedule, err))
		}
	}
	if cfg.Report.AsOfDate != "" {
		if _, err := util.ParseDate(cfg.Report.AsOfDate); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("- Config.Report.AsOfDate: %v", err))
		}
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

// validateImportConfig validates one upload layout. required lists the
// column keys the job reads.
func validateImportConfig(prefix string, cfg *ImportConfig, required []string) []string {
	var errs []string

	if cfg.HeaderSkipRows != nil && *cfg.HeaderSkipRows < 0 {
		errs = append(errs, fmt.Sprintf("- %s.HeaderSkipRows: must be >= 0, got %d", prefix, *cfg.HeaderSkipRows))
	}
	seen := make(map[string]bool, len(cfg.Sheets))
	for i, sheet := range cfg.Sheets {
		if strings.TrimSpace(sheet) == "" {
			errs = append(errs, fmt.Sprintf("- %s.Sheets[%d]: sheet name is empty", prefix, i))
		} else if seen[sheet] {
			errs = append(errs, fmt.Sprintf("- %s.Sheets[%d]: duplicate sheet '%s'", prefix, i, sheet))
		}
		seen[sheet] = true
	}

	if err := cfg.ColumnMap().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("- %s.Columns: %v", prefix, err))
	}
	keys := make(map[string]bool, len(cfg.Columns))
	for i, col := range cfg.Columns {
		keys[col.Key] = true
		if col.Transform == "" {
			continue
		}
		if _, err := transform.Chain(col.Transform); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Columns[%d].Transform: %v", prefix, i, err))
		}
	}
	for _, key := range required {
		if !keys[key] {
			errs = append(errs, fmt.Sprintf("- %s.Columns: required column '%s' is not mapped", prefix, key))
		}
	}

	if cfg.Filter != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Filter); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Filter: invalid expression syntax: %v", prefix, err))
		}
	}
	return errs
}
