// Package neo4j implements graph.Engine on a Neo4j server over Bolt.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/starford/marcom/internal/graph"
)

// Config holds the Bolt connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Engine is a Neo4j-backed graph engine. Every call opens its own session
// and runs one explicit transaction, so a failed unit of work is rolled back
// and reported instead of retried.
type Engine struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ graph.Engine = (*Engine)(nil)

// Open creates a driver and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Engine{driver: driver, database: cfg.Database}, nil
}

// Dialect implements graph.Engine.
func (e *Engine) Dialect() graph.Dialect { return graph.DialectCypher }

// Write implements graph.Engine.
func (e *Engine) Write(ctx context.Context, fn func(graph.Tx) error) error {
	return e.run(ctx, neo4j.AccessModeWrite, fn)
}

// Read implements graph.Engine.
func (e *Engine) Read(ctx context.Context, fn func(graph.Tx) error) error {
	return e.run(ctx, neo4j.AccessModeRead, fn)
}

// Ping implements graph.Engine.
func (e *Engine) Ping(ctx context.Context) error {
	return e.driver.VerifyConnectivity(ctx)
}

// Close releases the driver's connection pool.
func (e *Engine) Close() error {
	return e.driver.Close(context.Background())
}

func (e *Engine) run(ctx context.Context, mode neo4j.AccessMode, fn func(graph.Tx) error) error {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: e.database,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4j: begin tx: %w", err)
	}
	if err := fn(&boltTx{tx: tx}); err != nil {
		tx.Rollback(ctx) //nolint:errcheck // original error wins
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("neo4j: commit: %w", err)
	}
	return nil
}

type boltTx struct {
	tx neo4j.ExplicitTransaction
}

func (t *boltTx) Exec(ctx context.Context, stmt string, params graph.Params) (graph.Summary, error) {
	res, err := t.tx.Run(ctx, stmt, params)
	if err != nil {
		return graph.Summary{}, err
	}
	sum, err := res.Consume(ctx)
	if err != nil {
		return graph.Summary{}, err
	}
	c := sum.Counters()
	return graph.Summary{Affected: int64(c.NodesCreated() + c.RelationshipsCreated())}, nil
}

func (t *boltTx) Query(ctx context.Context, stmt string, params graph.Params) ([]graph.Record, error) {
	res, err := t.tx.Run(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	recs, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, graph.Record(r.AsMap()))
	}
	return out, nil
}
