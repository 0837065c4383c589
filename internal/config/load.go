package config

import (
	"errors"
	"fmt"
	"os"

	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/production"
	"fieldops-etl/internal/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. Variables
// already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file '%s': %w", path, err)
	}
	logging.Logf(logging.Debug, "Loaded environment from %s", path)
	return nil
}

// LoadConfig reads, parses, and validates the YAML configuration file.
// It applies defaults before returning the validated configuration.
func LoadConfig(filename string) (*Config, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(fileBytes, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// applyDefaults sets default values for every section.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	if cfg.Database.Timeout <= 0 {
		cfg.Database.Timeout = DefaultDBTimeout
	}
	if cfg.Database.BatchSize <= 0 {
		cfg.Database.BatchSize = DefaultBatchSize
	}
	cfg.Database.DSN = util.ExpandEnvUniversal(cfg.Database.DSN)

	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = DefaultLockTTL
	}
	if cfg.Lock.KeyPrefix == "" {
		cfg.Lock.KeyPrefix = DefaultLockKeyPrefix
	}
	cfg.Lock.RedisURL = util.ExpandEnvUniversal(cfg.Lock.RedisURL)

	applyImportDefaults(&cfg.Imports.Handbook, nil, 0, handbook.DefaultColumns())
	applyImportDefaults(&cfg.Imports.Production, production.MonthSheets(), DefaultProductionSkip, production.DefaultColumns())

	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = DefaultReportDir
	}
	cfg.Report.OutputDir = util.ExpandEnvUniversal(cfg.Report.OutputDir)
}

func applyImportDefaults(c *ImportConfig, sheets []string, skip int, cols etlio.ColumnMap) {
	if len(c.Sheets) == 0 && len(sheets) > 0 {
		c.Sheets = sheets
	}
	if c.HeaderSkipRows == nil {
		c.HeaderSkipRows = &skip
	}
	if len(c.Columns) == 0 {
		c.Columns = make([]ColumnConfig, len(cols))
		for i, spec := range cols {
			c.Columns[i] = ColumnConfig{Key: spec.Key, Position: spec.Position, Transform: spec.Transform}
		}
	}
	if c.UploadsDir == "" {
		c.UploadsDir = DefaultUploadsDir
	}
	c.UploadsDir = util.ExpandEnvUniversal(c.UploadsDir)
}
