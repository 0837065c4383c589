package io

import (
	"context"
	"fmt"
	goio "io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"fieldops-etl/internal/logging"
)

// Upload is an uploaded workbook staged on disk for the lifetime of one job.
// Jobs defer Release right after staging so the copy is removed on success,
// on the validation-gate path and on fatal errors alike.
type Upload struct {
	Path string

	mu       sync.Mutex
	released bool
}

// Stage copies r into dir as "<jobID>-<name>".
func Stage(ctx context.Context, r goio.Reader, name, dir, jobID string) (*Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory '%s': %w", dir, err)
	}
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "upload.xlsx"
	}
	path := filepath.Join(dir, jobID+"-"+base)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged upload '%s': %w", path, err)
	}
	n, copyErr := goio.Copy(f, &ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return nil, fmt.Errorf("failed to stage upload '%s': %w", name, copyErr)
		}
		return nil, fmt.Errorf("failed to close staged upload '%s': %w", path, closeErr)
	}
	logging.Logf(logging.Debug, "Staged upload '%s' (%d bytes) at %s", name, n, path)
	return &Upload{Path: path}, nil
}

// StageFile stages a workbook that already sits on disk.
func StageFile(ctx context.Context, srcPath, dir, jobID string) (*Upload, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload '%s': %w", srcPath, err)
	}
	defer f.Close()
	return Stage(ctx, f, filepath.Base(srcPath), dir, jobID)
}

// Source returns the staged copy as an extraction source.
func (u *Upload) Source() Source {
	return PathSource(u.Path)
}

// Release deletes the staged copy. It is safe to call more than once and on
// a nil Upload.
func (u *Upload) Release() error {
	if u == nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.released {
		return nil
	}
	u.released = true
	if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
		logging.Logf(logging.Warning, "Failed to remove staged upload '%s': %v", u.Path, err)
		return fmt.Errorf("failed to remove staged upload '%s': %w", u.Path, err)
	}
	logging.Logf(logging.Debug, "Released staged upload %s", u.Path)
	return nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   goio.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
