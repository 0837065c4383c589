package io

import (
	"encoding/json"
	"fmt"
	goio "io"
	"os"
	"path/filepath"

	"fieldops-etl/internal/logging"
)

// ResultWriter writes a job result payload as indented JSON, either to a file
// or, when Path is empty or "-", to Out.
type ResultWriter struct {
	Path string
	Out  goio.Writer
}

// NewResultWriter returns a writer targeting path, falling back to stdout.
func NewResultWriter(path string) *ResultWriter {
	return &ResultWriter{Path: path, Out: os.Stdout}
}

// Write marshals v with a trailing newline. The output directory is created
// when needed.
func (rw *ResultWriter) Write(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ResultWriter failed to marshal result: %w", err)
	}
	data = append(data, '\n')

	if rw.Path == "" || rw.Path == "-" {
		out := rw.Out
		if out == nil {
			out = os.Stdout
		}
		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("ResultWriter failed to write result: %w", err)
		}
		return nil
	}

	dir := filepath.Dir(rw.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ResultWriter failed to create directory for '%s': %w", rw.Path, err)
		}
	}
	if err := os.WriteFile(rw.Path, data, 0644); err != nil {
		return fmt.Errorf("ResultWriter failed to write file '%s': %w", rw.Path, err)
	}
	logging.Logf(logging.Debug, "ResultWriter wrote result to %s", rw.Path)
	return nil
}
