// Package graph defines the narrow transactional interface the catalog uses
// to reach its graph storage engine.
//
// Every mutating catalog operation runs inside exactly one Engine.Write call
// and every read inside one Engine.Read call. Statements are written per
// dialect and always receive user-supplied values through Params.
package graph

import (
	"context"
	"fmt"
)

// Dialect identifies the statement language an engine executes.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectCypher Dialect = "cypher"
)

// Params are named statement parameters. Statements reference them as $name.
type Params map[string]any

// Summary reports the effect of a write statement.
type Summary struct {
	// Affected counts rows inserted or updated (SQLite) or nodes and
	// relationships created (Cypher).
	Affected int64
}

// Tx is a single engine transaction.
type Tx interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, stmt string, params Params) (Summary, error)
	// Query runs a statement and collects every row.
	Query(ctx context.Context, stmt string, params Params) ([]Record, error)
}

// Engine is a graph storage engine with transactional access.
type Engine interface {
	Dialect() Dialect
	// Write runs fn in a read-write transaction, committing when fn returns nil.
	Write(ctx context.Context, fn func(Tx) error) error
	// Read runs fn in a read-only snapshot transaction.
	Read(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Statement holds the text of one logical statement for each dialect.
type Statement map[Dialect]string

// For returns the statement text for d.
func (s Statement) For(d Dialect) (string, error) {
	text, ok := s[d]
	if !ok || text == "" {
		return "", fmt.Errorf("graph: no statement for dialect %q", d)
	}
	return text, nil
}
