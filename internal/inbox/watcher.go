// Package inbox watches a drop folder for CSV tables and feeds them to the
// catalog: ingestion tables are ingested, tag tables are seeded. Handled
// files are moved to processed/ or failed/ under the folder.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/models"
	"github.com/starford/marcom/internal/tabular"
)

// Subdirectories receiving handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

const settle = 200 * time.Millisecond

// Catalog is the part of catalog.Service the inbox drives.
type Catalog interface {
	IngestAll(ctx context.Context, rows []models.IngestRow) (*catalog.IngestReport, error)
	SeedTags(ctx context.Context, seeds []models.TagSeed) (*catalog.SeedReport, error)
}

// EventCallback is called after a table was handled. kind is one of
// "ingested", "seeded", "failed"; name is the file name.
type EventCallback func(kind string, name string)

// Watch processes the CSV files already in dir, then watches it for new
// ones until ctx is cancelled. A file is handled once it has not been
// written to for a short settle period.
func Watch(ctx context.Context, dir string, cat Catalog, logger *slog.Logger, cb EventCallback) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("inbox: %w", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", dir, err)
	}
	logger.Info("inbox: started", slog.String("dir", dir))

	existing, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	for _, e := range existing {
		if !e.IsDir() && isTable(e.Name()) {
			Process(ctx, dir, e.Name(), cat, logger, cb)
		}
	}

	// pending maps file names to the time of their last write.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if filepath.Dir(ev.Name) != filepath.Clean(dir) || !isTable(name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, name)
			}

		case now := <-ticker.C:
			for name, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, name)
				Process(ctx, dir, name, cat, logger, cb)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: error", slog.String("error", watchErr.Error()))
		}
	}
}

func isTable(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv") && !strings.HasPrefix(name, ".")
}

// Process handles one table in dir and moves it aside.
func Process(ctx context.Context, dir, name string, cat Catalog, logger *slog.Logger, cb EventCallback) {
	path := filepath.Join(dir, name)
	kind, err := handle(ctx, path, cat, logger)
	dest := ProcessedDir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		logger.Warn("inbox: table failed", slog.String("file", name), slog.String("error", err.Error()))
		kind, dest = "failed", FailedDir
	}
	stamped := time.Now().UTC().Format("20060102T150405") + "-" + name
	if mvErr := os.Rename(path, filepath.Join(dir, dest, stamped)); mvErr != nil {
		logger.Warn("inbox: move failed", slog.String("file", name), slog.String("error", mvErr.Error()))
	}
	if cb != nil {
		cb(kind, name)
	}
}

func handle(ctx context.Context, path string, cat Catalog, logger *slog.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	rows, err := tabular.ReadIngestRows(bytes.NewReader(data))
	if err == nil {
		rep, err := cat.IngestAll(ctx, rows)
		if err != nil {
			return "", err
		}
		logger.Info("inbox: ingested",
			slog.String("file", filepath.Base(path)),
			slog.String("run", rep.RunID),
			slog.Int("components", len(rep.Components)),
			slog.Int("failed", rep.Failed()),
		)
		return "ingested", nil
	}
	if !errors.Is(err, tabular.ErrMissingColumn) {
		return "", err
	}

	seeds, err := tabular.ReadTagSeeds(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("not an ingestion or tag table: %w", err)
	}
	rep, err := cat.SeedTags(ctx, seeds)
	if err != nil {
		return "", err
	}
	logger.Info("inbox: seeded",
		slog.String("file", filepath.Base(path)),
		slog.String("run", rep.RunID),
		slog.Int("created", len(rep.Created)),
		slog.Int("failed", len(rep.Errors)),
	)
	return "seeded", nil
}
