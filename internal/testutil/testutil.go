// Package testutil provides shared test helpers for setting up graph
// engines and content sources.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/fetch"
	"github.com/starford/marcom/internal/graph/sqlite"
)

// TestEngine creates a temporary SQLite graph engine that is automatically
// cleaned up.
func TestEngine(t *testing.T) *sqlite.Engine {
	t.Helper()
	dbFile, err := os.CreateTemp("", "marcom-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			os.Remove(dbFile.Name() + suffix)
		}
	})

	e, err := sqlite.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// TestContentRoot writes files (relative path -> body) under a temporary
// directory and returns a local fetcher rooted there.
func TestContentRoot(t *testing.T, files map[string]string) (string, *fetch.FS) {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	f, err := fetch.NewFS(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	return root, f
}

// MapFetcher serves content from memory, keyed by source reference.
type MapFetcher map[string]string

// Fetch implements fetch.Fetcher.
func (m MapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	body, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("%w: no content for %s", apperr.ErrFetch, ref)
	}
	return []byte(body), nil
}
