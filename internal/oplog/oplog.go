// Package oplog appends a human-readable record of catalog operations to a
// CSV file.
package oplog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Header is written once, when the file is created.
var Header = []string{"Operation Result", "Subject", "Key", "Date", "Time", "Count"}

// Result classifications.
const (
	AddedComponent  = "Added component"
	FailedComponent = "Failed to add component"
	AddedTag        = "Added tag"
	ExistingTag     = "Tag already exists"
	FailedTag       = "Failed to add tag"
	RelatedTag      = "related tag"
	AlreadyRelated  = "already related tag"
	SkippedTag      = "skipped tag"
	FailedLink      = "Failed to link component"
	Summary         = "summary"
	TagAudit        = "tag audit" // Subject: text as found, Key: normalized tag
)

// Entry is one log row.
type Entry struct {
	Result  string
	Subject string
	Key     string
	Count   *int
	At      time.Time // zero means now
}

// Log is an append-only CSV operation log. A nil *Log discards entries.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open prepares a log at path, creating parent directories.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("oplog: create dir: %w", err)
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }

// Append writes entries as consecutive rows.
func (l *Log) Append(entries ...Entry) error {
	if l == nil || len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("oplog: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("oplog: stat: %w", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("oplog: write header: %w", err)
		}
	}
	for _, e := range entries {
		at := e.At
		if at.IsZero() {
			at = l.now()
		}
		count := ""
		if e.Count != nil {
			count = strconv.Itoa(*e.Count)
		}
		row := []string{e.Result, e.Subject, e.Key, at.Format("2006-01-02"), at.Format("15:04"), count}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("oplog: write: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("oplog: flush: %w", err)
	}
	return nil
}

// Count returns a pointer to n for Entry.Count.
func Count(n int) *int { return &n }
