package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/tagging"
	"github.com/starford/marcom/internal/testutil"
)

type noRecognizer struct{}

func (noRecognizer) Analyze(string) (tagging.Analysis, error) { return tagging.Analysis{}, nil }

func inboxTestEnv(t *testing.T) (string, *catalog.Service) {
	t.Helper()
	e := testutil.TestEngine(t)
	svc := catalog.New(e, testutil.MapFetcher{"a": "first", "b": "second"}, tagging.NewExtractor(noRecognizer{}), catalog.Options{})
	if err := svc.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	return t.TempDir(), svc
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	return len(entries)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) cb(kind, name string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+name)
	r.mu.Unlock()
}

func (r *recorder) has(e string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.events {
		if got == e {
			return true
		}
	}
	return false
}

func TestProcessIngestTable(t *testing.T) {
	dir, svc := inboxTestEnv(t)
	table := "Component Name,Domain,About,Context,Source\nFirst,sales,,,a\nSecond,sales,,,b\n"
	if err := os.WriteFile(filepath.Join(dir, "batch.csv"), []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ProcessedDir), 0o755); err != nil {
		t.Fatal(err)
	}

	var rec recorder
	Process(context.Background(), dir, "batch.csv", svc, quietLogger(), rec.cb)

	if !rec.has("ingested:batch.csv") {
		t.Errorf("events = %v", rec.events)
	}
	if _, err := os.Stat(filepath.Join(dir, "batch.csv")); !os.IsNotExist(err) {
		t.Error("table not moved out of the inbox")
	}
	if n := countFiles(t, filepath.Join(dir, ProcessedDir)); n != 1 {
		t.Errorf("processed files = %d", n)
	}
	values, err := svc.PropertyValues(context.Background(), "domain")
	if err != nil || len(values) != 1 || values[0] != "sales" {
		t.Errorf("values = %v err = %v", values, err)
	}
}

func TestProcessRejectsUnknownTable(t *testing.T) {
	dir, svc := inboxTestEnv(t)
	if err := os.MkdirAll(filepath.Join(dir, FailedDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.csv"), []byte("colour\nred\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var rec recorder
	Process(context.Background(), dir, "junk.csv", svc, quietLogger(), rec.cb)
	if !rec.has("failed:junk.csv") {
		t.Errorf("events = %v", rec.events)
	}
	if n := countFiles(t, filepath.Join(dir, FailedDir)); n != 1 {
		t.Errorf("failed files = %d", n)
	}
}

func TestWatch_ExistingAndNewTables(t *testing.T) {
	dir, svc := inboxTestEnv(t)
	if err := os.WriteFile(filepath.Join(dir, "tags.csv"), []byte("Tag\nAcme\nWidget\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder
	done := make(chan struct{})
	go func() {
		_ = Watch(ctx, dir, svc, quietLogger(), rec.cb)
		close(done)
	}()

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("seeded:tags.csv")
	}, "existing tag table not seeded")

	table := "Component Name,Source\nFirst,a\n"
	_ = os.WriteFile(filepath.Join(dir, "later.csv"), []byte(table), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("ingested:later.csv")
	}, "new ingestion table not handled")

	tags, err := svc.ListTags(context.Background())
	if err != nil || len(tags) != 2 {
		t.Errorf("tags = %v err = %v", tags, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("non-table file should stay in place")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
