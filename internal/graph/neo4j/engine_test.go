package neo4j

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/starford/marcom/internal/graph"
)

// Integration test; runs only when MARCOM_TEST_NEO4J_URI points at a server.
func TestEngineRoundTrip(t *testing.T) {
	uri := os.Getenv("MARCOM_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("MARCOM_TEST_NEO4J_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e, err := Open(ctx, Config{
		URI:      uri,
		Username: os.Getenv("MARCOM_TEST_NEO4J_USER"),
		Password: os.Getenv("MARCOM_TEST_NEO4J_PASSWORD"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if e.Dialect() != graph.DialectCypher {
		t.Fatalf("dialect = %s", e.Dialect())
	}

	name := "engine-test-" + time.Now().Format("150405.000000")
	err = e.Write(ctx, func(tx graph.Tx) error {
		sum, err := tx.Exec(ctx, `CREATE (t:EngineProbe {name: $name})`, graph.Params{"name": name})
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
	t.Cleanup(func() {
		_ = e.Write(context.Background(), func(tx graph.Tx) error {
			_, err := tx.Exec(context.Background(), `MATCH (t:EngineProbe {name: $name}) DELETE t`, graph.Params{"name": name})
			return err
		})
	})

	err = e.Read(ctx, func(tx graph.Tx) error {
		recs, err := tx.Query(ctx, `MATCH (t:EngineProbe {name: $name}) RETURN t.name AS name`, graph.Params{"name": name})
		if err != nil {
			return err
		}
		if len(recs) != 1 || recs[0].String("name") != name {
			t.Errorf("recs = %v", recs)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
