// Package tagregistry is the sole authority on which tags exist.
//
// Tags are unique by their normalized name; the display name keeps the case
// it was first registered with.
package tagregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/graph"
	"github.com/starford/marcom/internal/models"
)

var (
	stmtUniqueIndex = graph.Statement{
		graph.DialectSQLite: `CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_name_lower ON tags(name_lower)`,
		graph.DialectCypher: `CREATE CONSTRAINT tag_name_lower IF NOT EXISTS FOR (t:Tag) REQUIRE t.name_lower IS UNIQUE`,
	}

	stmtExists = graph.Statement{
		graph.DialectSQLite: `SELECT 1 AS found FROM tags WHERE name_lower = $lower LIMIT 1`,
		graph.DialectCypher: `MATCH (t:Tag {name_lower: $lower}) RETURN 1 AS found LIMIT 1`,
	}

	stmtMerge = graph.Statement{
		graph.DialectSQLite: `
INSERT INTO tags (name, name_lower, created_at)
SELECT $name, $lower, $now
WHERE NOT EXISTS (SELECT 1 FROM tags WHERE name_lower = $lower)`,
		graph.DialectCypher: `
MERGE (t:Tag {name_lower: $lower})
ON CREATE SET t.name = $name, t.created_at = $now`,
	}

	stmtGet = graph.Statement{
		graph.DialectSQLite: `SELECT name FROM tags WHERE name_lower = $lower`,
		graph.DialectCypher: `MATCH (t:Tag {name_lower: $lower}) RETURN t.name AS name`,
	}

	stmtList = graph.Statement{
		graph.DialectSQLite: `SELECT name FROM tags ORDER BY name_lower`,
		graph.DialectCypher: `MATCH (t:Tag) RETURN t.name AS name ORDER BY t.name_lower`,
	}
)

// ErrEmptyName is returned when a tag name normalizes to nothing.
var ErrEmptyName = errors.New("tagregistry: empty tag name")

// Registry registers and looks up tags.
type Registry struct {
	engine graph.Engine
}

// New creates a Registry over engine.
func New(engine graph.Engine) *Registry {
	return &Registry{engine: engine}
}

// EnsureUniqueIndex establishes case-insensitive name uniqueness. Safe to
// call repeatedly.
func (r *Registry) EnsureUniqueIndex(ctx context.Context) error {
	text, err := stmtUniqueIndex.For(r.engine.Dialect())
	if err != nil {
		return err
	}
	err = r.engine.Write(ctx, func(tx graph.Tx) error {
		_, err := tx.Exec(ctx, text, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("tagregistry: ensure unique index: %w", err)
	}
	return nil
}

// Exists reports whether a tag with the given name exists, ignoring case.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	var found bool
	err := r.engine.Read(ctx, func(tx graph.Tx) error {
		var err error
		found, err = r.ExistsTx(ctx, tx, name)
		return err
	})
	return found, err
}

// ExistsTx is Exists inside a caller-owned transaction.
func (r *Registry) ExistsTx(ctx context.Context, tx graph.Tx, name string) (bool, error) {
	text, err := stmtExists.For(r.engine.Dialect())
	if err != nil {
		return false, err
	}
	recs, err := tx.Query(ctx, text, graph.Params{"lower": models.NormalizeTag(name)})
	if err != nil {
		return false, fmt.Errorf("tagregistry: exists: %w: %w", apperr.ErrQueryExecution, err)
	}
	return len(recs) > 0, nil
}

// Register creates the tag unless one with the same normalized name
// already exists. It returns the stored tag and whether it was created.
func (r *Registry) Register(ctx context.Context, display string) (*models.Tag, bool, error) {
	display = strings.TrimSpace(display)
	lower := models.NormalizeTag(display)
	if lower == "" {
		return nil, false, ErrEmptyName
	}
	d := r.engine.Dialect()
	merge, err := stmtMerge.For(d)
	if err != nil {
		return nil, false, err
	}
	get, err := stmtGet.For(d)
	if err != nil {
		return nil, false, err
	}

	var (
		tag     models.Tag
		created bool
	)
	err = r.engine.Write(ctx, func(tx graph.Tx) error {
		sum, err := tx.Exec(ctx, merge, graph.Params{
			"name":  display,
			"lower": lower,
			"now":   time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		created = sum.Affected > 0
		recs, err := tx.Query(ctx, get, graph.Params{"lower": lower})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return fmt.Errorf("tag %q vanished after merge", display)
		}
		tag.Name = recs[0].String("name")
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("tagregistry: register %q: %w: %w", display, apperr.ErrTransaction, err)
	}
	return &tag, created, nil
}

// List returns every registered tag ordered by name.
func (r *Registry) List(ctx context.Context) ([]models.Tag, error) {
	text, err := stmtList.For(r.engine.Dialect())
	if err != nil {
		return nil, err
	}
	var recs []graph.Record
	err = r.engine.Read(ctx, func(tx graph.Tx) error {
		recs, err = tx.Query(ctx, text, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tagregistry: list: %w: %w", apperr.ErrQueryExecution, err)
	}
	out := make([]models.Tag, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.Tag{Name: rec.String("name")})
	}
	return out, nil
}

// SeedResult is the outcome of registering one seed name.
type SeedResult struct {
	Name    string
	Tag     *models.Tag
	Created bool
	Err     error
}

// SeedAll ensures the unique index, then registers each name in turn.
// A failing name is reported in its result and the loop continues; only a
// failure to establish the index aborts.
func (r *Registry) SeedAll(ctx context.Context, names []string) ([]SeedResult, error) {
	if err := r.EnsureUniqueIndex(ctx); err != nil {
		return nil, err
	}
	out := make([]SeedResult, 0, len(names))
	for _, name := range names {
		tag, created, err := r.Register(ctx, name)
		if err != nil {
			err = &apperr.ItemError{Name: name, Err: err}
		}
		out = append(out, SeedResult{Name: name, Tag: tag, Created: created, Err: err})
	}
	return out, nil
}
