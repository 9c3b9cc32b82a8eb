package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/marcom/internal/apperr"
)

// FS reads content from files under a root directory.
type FS struct {
	root     string // absolute path to content root
	maxBytes int64
}

// NewFS creates a local fetcher rooted at root. The directory must exist.
func NewFS(root string, maxBytes int64) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fetch: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fetch: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fetch: root is not a directory: %s", abs)
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &FS{root: abs, maxBytes: maxBytes}, nil
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it.
func (f *FS) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes content root: %s", rel)
	}
	return abs, nil
}

// Fetch implements Fetcher.
func (f *FS) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}
	p, err := f.safePath(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}
	fh, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", apperr.ErrFetch, ref, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: content too large: exceeds %d bytes", apperr.ErrFetch, f.maxBytes)
	}
	return data, nil
}
