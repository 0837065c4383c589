package config

import (
	"time"

	etlio "fieldops-etl/internal/io"
)

// Define constants for configuration keys, defaults etc.
const (
	DefaultLogLevel       = "info"
	DefaultDBTimeout      = 30 * time.Second
	DefaultBatchSize      = 300
	DefaultLockTTL        = 10 * time.Minute
	DefaultLockKeyPrefix  = "fieldops:"
	DefaultReportDir      = "files"
	DefaultUploadsDir     = "uploads"
	DefaultProductionSkip = 3
)

// Config defines the overall structure of the fieldops-etl YAML file.
type Config struct {
	// Logging configuration specifies the verbosity level.
	Logging LoggingConfig `yaml:"logging"`
	// Database holds the Postgres connection and bulk-write settings.
	Database DatabaseConfig `yaml:"database"`
	// Lock configures the cross-worker import lock. Without a Redis URL
	// imports run unlocked.
	Lock LockConfig `yaml:"lock"`
	// Imports describes the layout of the two upload kinds.
	Imports ImportsConfig `yaml:"imports"`
	// Report configures the temporary-suspension export.
	Report ReportConfig `yaml:"report"`
	// Metrics configures the Prometheus endpoint served in schedule mode.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig holds settings related to logging verbosity.
type LoggingConfig struct {
	// Level defines the logging detail (e.g., "none", "error", "warn", "info", "debug").
	// Defaults to "info".
	Level string `yaml:"level"`
}

// DatabaseConfig holds the Postgres settings.
type DatabaseConfig struct {
	// DSN is the connection string. Environment variables are expanded.
	// Falls back to DB_CREDENTIALS when empty.
	DSN string `yaml:"dsn,omitempty"`
	// Timeout bounds each statement group. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// BatchSize is the row count of one multi-row INSERT. Defaults to 300.
	BatchSize int `yaml:"batch_size,omitempty"`
	// MigrateOnStart applies pending migrations before any job runs.
	MigrateOnStart bool `yaml:"migrate_on_start,omitempty"`
}

// LockConfig holds the Redis lock settings.
type LockConfig struct {
	RedisURL  string        `yaml:"redis_url,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	KeyPrefix string        `yaml:"key_prefix,omitempty"`
}

// ImportsConfig groups the upload layouts.
type ImportsConfig struct {
	Handbook   ImportConfig `yaml:"handbook"`
	Production ImportConfig `yaml:"production"`
}

// ColumnConfig is one positional column of an upload.
type ColumnConfig struct {
	Key      string `yaml:"key"`
	Position int    `yaml:"position"`
	// Transform is an optional chain of registered transforms, e.g. "trim|nullIfNaN".
	Transform string `yaml:"transform,omitempty"`
}

// ImportConfig describes where data sits inside an uploaded workbook.
type ImportConfig struct {
	// Sheets are the sheet names to read. Empty means the first sheet.
	Sheets []string `yaml:"sheets,omitempty"`
	// HeaderSkipRows is the number of rows above the nominal header. A nil
	// value takes the upload kind's default.
	HeaderSkipRows *int           `yaml:"header_skip_rows,omitempty"`
	Columns        []ColumnConfig `yaml:"columns,omitempty"`
	// Filter is an optional govaluate expression evaluated against each
	// extracted row keyed by column; rows evaluating to false are dropped.
	// Example: "indicator != 'Итого'"
	Filter string `yaml:"filter,omitempty"`
	// UploadsDir is where uploads are staged for the job. Environment
	// variables are expanded.
	UploadsDir string `yaml:"uploads_dir,omitempty"`
}

// ColumnMap converts the configured columns into the extraction layout.
func (c ImportConfig) ColumnMap() etlio.ColumnMap {
	m := make(etlio.ColumnMap, len(c.Columns))
	for i, col := range c.Columns {
		m[i] = etlio.ColumnSpec{Key: col.Key, Position: col.Position, Transform: col.Transform}
	}
	return m
}

// SkipRows returns HeaderSkipRows, 0 when unset.
func (c ImportConfig) SkipRows() int {
	if c.HeaderSkipRows == nil {
		return 0
	}
	return *c.HeaderSkipRows
}

// ReportConfig holds the export settings.
type ReportConfig struct {
	// OutputDir receives "<job id>.xlsx". Defaults to "files".
	OutputDir string `yaml:"output_dir,omitempty"`
	// Schedule is a standard five-field cron spec used by -job schedule.
	Schedule string `yaml:"schedule,omitempty"`
	// AsOfDate pins the report date ("2006-01-02" or "02.01.2006").
	AsOfDate string `yaml:"as_of_date,omitempty"`
}

// MetricsConfig holds the metrics listener address, e.g. ":9102".
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}
