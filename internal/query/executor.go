package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/graph"
)

// Result is one row of a compiled query.
type Result struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	About   string `json:"about"`
	Context string `json:"context"`
	Size    int    `json:"size"`
	Content []byte `json:"-"`
	Tag     string `json:"tag,omitempty"` // matched tag, set when criteria were given
}

// Executor runs compiled queries against an engine.
type Executor struct {
	engine graph.Engine
	log    *slog.Logger
}

// NewExecutor creates an Executor. A nil logger falls back to slog.Default.
func NewExecutor(engine graph.Engine, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{engine: engine, log: log}
}

// Execute runs q in a read transaction.
func (x *Executor) Execute(ctx context.Context, q *Compiled) ([]Result, error) {
	if q.Dialect != x.engine.Dialect() {
		return nil, fmt.Errorf("query: compiled for %s, engine speaks %s", q.Dialect, x.engine.Dialect())
	}
	var recs []graph.Record
	err := x.engine.Read(ctx, func(tx graph.Tx) error {
		var err error
		recs, err = tx.Query(ctx, q.Text, q.Params)
		return err
	})
	if err != nil {
		x.log.Error("query failed", slog.String("dialect", string(q.Dialect)), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", apperr.ErrQueryExecution, err)
	}
	out := make([]Result, 0, len(recs))
	for _, r := range recs {
		out = append(out, Result{
			Key:     r.String("key"),
			Name:    r.String("name"),
			Domain:  r.String("domain"),
			About:   r.String("about"),
			Context: r.String("context"),
			Size:    r.Int("size"),
			Content: r.Bytes("content"),
			Tag:     r.String("tag"),
		})
	}
	return out, nil
}

// Unique keeps the first row of each component, preserving order.
func Unique(rs []Result) []Result {
	seen := make(map[string]bool, len(rs))
	out := make([]Result, 0, len(rs))
	for _, r := range rs {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		out = append(out, r)
	}
	return out
}

func valuesStatement(field string) (graph.Statement, bool) {
	if !slices.Contains(Fields(), field) {
		return nil, false
	}
	return graph.Statement{
		graph.DialectSQLite: "SELECT DISTINCT " + field + " AS value FROM components WHERE " + field + " <> '' ORDER BY value",
		graph.DialectCypher: "MATCH (c:Component) WHERE c." + field + " <> '' RETURN DISTINCT c." + field + " AS value ORDER BY value",
	}, true
}

// PropertyValues lists the distinct non-empty values stored for field.
func (x *Executor) PropertyValues(ctx context.Context, field string) ([]string, error) {
	stmt, ok := valuesStatement(field)
	if !ok {
		return nil, apperr.Filter("unknown property %q (want one of %v)", field, Fields())
	}
	text, err := stmt.For(x.engine.Dialect())
	if err != nil {
		return nil, err
	}
	var recs []graph.Record
	err = x.engine.Read(ctx, func(tx graph.Tx) error {
		recs, err = tx.Query(ctx, text, nil)
		return err
	})
	if err != nil {
		x.log.Error("property values failed", slog.String("field", field), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", apperr.ErrQueryExecution, err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.String("value"))
	}
	return slices.Compact(out), nil
}
