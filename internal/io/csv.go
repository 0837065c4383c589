package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fieldops-etl/internal/logging"
)

// IssueHeader is the column layout of an issues file. It mirrors the
// log_errors entries of the job result payload.
var IssueHeader = []string{"text", "type", "column", "name_object"}

// CSVIssueWriter appends validation issues to a CSV file so operators can
// keep a history across uploads.
type CSVIssueWriter struct {
	filePath      string
	writer        *csv.Writer
	file          *os.File
	mu            sync.Mutex
	headerWritten bool
	closed        bool
}

// NewCSVIssueWriter opens filePath in append mode, creating its directory.
func NewCSVIssueWriter(filePath string) (*CSVIssueWriter, error) {
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("CSVIssueWriter failed to create directory for '%s': %w", filePath, err)
		}
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("CSVIssueWriter failed to open/create file '%s': %w", filePath, err)
	}
	return &CSVIssueWriter{
		filePath: filePath,
		file:     f,
		writer:   csv.NewWriter(f),
	}, nil
}

// Write appends one issue row. The header is written once, and only when the
// file is empty.
func (w *CSVIssueWriter) Write(issue IssueRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.writer == nil {
		return errors.New("CSVIssueWriter: write called on closed writer")
	}

	if !w.headerWritten {
		info, err := w.file.Stat()
		if err != nil || info.Size() == 0 {
			if err := w.writer.Write(IssueHeader); err != nil {
				return fmt.Errorf("CSVIssueWriter failed to write header to '%s': %w", w.filePath, err)
			}
		}
		w.headerWritten = true
	}

	if err := w.writer.Write(issue.IssueFields()); err != nil {
		return fmt.Errorf("CSVIssueWriter failed to write row to '%s': %w", w.filePath, err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSVIssueWriter error after flushing row to '%s': %w", w.filePath, err)
	}
	return nil
}

// Close flushes and closes the file. Safe to call multiple times.
func (w *CSVIssueWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.writer == nil || w.file == nil {
		return nil
	}
	var firstErr error
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		firstErr = fmt.Errorf("CSVIssueWriter flush error on close for '%s': %w", w.filePath, err)
		logging.Logf(logging.Error, "%v", firstErr)
	}
	if err := w.file.Close(); err != nil {
		closeErr := fmt.Errorf("CSVIssueWriter file close error for '%s': %w", w.filePath, err)
		logging.Logf(logging.Error, "%v", closeErr)
		if firstErr == nil {
			firstErr = closeErr
		}
	}
	w.closed = true
	w.file = nil
	w.writer = nil
	return firstErr
}
