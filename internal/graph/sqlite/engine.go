// Package sqlite implements graph.Engine on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/marcom/internal/graph"
)

var paramRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Engine is a SQLite-backed graph engine. Writes go through a single
// connection that takes the write lock at BEGIN; reads use a separate
// query-only pool so readers never wait on each other.
type Engine struct {
	write *sql.DB
	read  *sql.DB
}

// Verify *Engine satisfies graph.Engine at compile time.
var _ graph.Engine = (*Engine)(nil)

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*Engine, error) {
	w, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	w.SetMaxOpenConns(1)
	if err := w.Ping(); err != nil {
		w.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := w.Exec(coreSchemaSQL); err != nil {
		w.Close()
		return nil, fmt.Errorf("sqlite: apply core schema: %w", err)
	}

	r, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_query_only=1")
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("sqlite: open read pool: %w", err)
	}
	if err := r.Ping(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("sqlite: ping read pool: %w", err)
	}
	return &Engine{write: w, read: r}, nil
}

// Dialect implements graph.Engine.
func (e *Engine) Dialect() graph.Dialect { return graph.DialectSQLite }

// Write implements graph.Engine.
func (e *Engine) Write(ctx context.Context, fn func(graph.Tx) error) error {
	return run(ctx, e.write, fn)
}

// Read implements graph.Engine.
func (e *Engine) Read(ctx context.Context, fn func(graph.Tx) error) error {
	return run(ctx, e.read, fn)
}

// Ping implements graph.Engine.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.write.PingContext(ctx); err != nil {
		return err
	}
	return e.read.PingContext(ctx)
}

// Close closes both connection pools.
func (e *Engine) Close() error {
	rerr := e.read.Close()
	if err := e.write.Close(); err != nil {
		return err
	}
	return rerr
}

func run(ctx context.Context, db *sql.DB, fn func(graph.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, stmt string, params graph.Params) (graph.Summary, error) {
	args, err := bind(stmt, params)
	if err != nil {
		return graph.Summary{}, err
	}
	res, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return graph.Summary{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return graph.Summary{}, err
	}
	return graph.Summary{Affected: n}, nil
}

func (t *sqlTx) Query(ctx context.Context, stmt string, params graph.Params) ([]graph.Record, error) {
	args, err := bind(stmt, params)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []graph.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(graph.Record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// bind converts params into named arguments, passing only the names the
// statement references: database/sql rejects surplus arguments.
func bind(stmt string, params graph.Params) ([]any, error) {
	seen := make(map[string]struct{})
	var args []any
	for _, m := range paramRe.FindAllStringSubmatch(stmt, -1) {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		v, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("sqlite: missing parameter $%s", name)
		}
		args = append(args, sql.Named(name, v))
	}
	return args, nil
}
