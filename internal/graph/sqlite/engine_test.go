package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/marcom/internal/graph"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenAppliesSchema(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	err := e.Read(ctx, func(tx graph.Tx) error {
		recs, err := tx.Query(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`, nil)
		if err != nil {
			return err
		}
		got := map[string]bool{}
		for _, r := range recs {
			got[r.String("name")] = true
		}
		for _, want := range []string{"components", "tags", "edges"} {
			if !got[want] {
				t.Errorf("table %s missing", want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWriteCommitsAndReadSees(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	err := e.Write(ctx, func(tx graph.Tx) error {
		sum, err := tx.Exec(ctx, `INSERT INTO tags(name, name_lower) VALUES ($name, $name)`, graph.Params{"name": "acme", "unused": 1})
		if err != nil {
			return err
		}
		if sum.Affected != 1 {
			t.Errorf("affected = %d, want 1", sum.Affected)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Read(ctx, func(tx graph.Tx) error {
		recs, err := tx.Query(ctx, `SELECT name FROM tags WHERE name = $name OR name = $name`, graph.Params{"name": "acme"})
		if err != nil {
			return err
		}
		if len(recs) != 1 || recs[0].String("name") != "acme" {
			t.Errorf("recs = %v", recs)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := e.Write(ctx, func(tx graph.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tags(name, name_lower) VALUES ($name, $name)`, graph.Params{"name": "ghost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	_ = e.Read(ctx, func(tx graph.Tx) error {
		recs, err := tx.Query(ctx, `SELECT COUNT(*) AS n FROM tags`, nil)
		if err != nil {
			t.Fatal(err)
		}
		if recs[0].Int("n") != 0 {
			t.Errorf("tag count = %d after rollback, want 0", recs[0].Int("n"))
		}
		return nil
	})
}

func TestReadIsQueryOnly(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	err := e.Read(ctx, func(tx graph.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO tags(name, name_lower) VALUES ('x', 'x')`, nil)
		return err
	})
	if err == nil {
		t.Fatal("write inside read transaction should fail")
	}
}

func TestMissingParameter(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	err := e.Read(ctx, func(tx graph.Tx) error {
		_, err := tx.Query(ctx, `SELECT * FROM tags WHERE name = $name`, graph.Params{})
		return err
	})
	if err == nil {
		t.Fatal("expected missing parameter error")
	}
}
