// Package component owns creation and update of content-addressed
// components in the graph.
package component

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/checksum"
	"github.com/starford/marcom/internal/fetch"
	"github.com/starford/marcom/internal/graph"
	"github.com/starford/marcom/internal/models"
)

var (
	stmtConstraint = graph.Statement{
		graph.DialectCypher: `CREATE CONSTRAINT component_key IF NOT EXISTS FOR (c:Component) REQUIRE c.key IS UNIQUE`,
	}

	stmtUpsert = graph.Statement{
		graph.DialectSQLite: `
INSERT INTO components (key, name, domain, about, context, comment, source_ref, content, size, created_at, updated_at)
VALUES ($key, $name, $domain, $about, $context, $comment, $source_ref, $content, $size, $now, $now)
ON CONFLICT(key) DO UPDATE SET
	name = excluded.name,
	domain = excluded.domain,
	about = excluded.about,
	context = excluded.context,
	comment = excluded.comment,
	source_ref = excluded.source_ref,
	updated_at = excluded.updated_at`,
		graph.DialectCypher: `
MERGE (c:Component {key: $key})
ON CREATE SET c.content = $content, c.size = $size, c.created_at = $now
SET c.name = $name, c.domain = $domain, c.about = $about, c.context = $context,
    c.comment = $comment, c.source_ref = $source_ref, c.updated_at = $now`,
	}

	stmtGet = graph.Statement{
		graph.DialectSQLite: `
SELECT key, name, domain, about, context, comment, source_ref, content, size, created_at, updated_at
FROM components WHERE key = $key`,
		graph.DialectCypher: `
MATCH (c:Component {key: $key})
RETURN c.key AS key, c.name AS name, c.domain AS domain, c.about AS about, c.context AS context,
       c.comment AS comment, c.source_ref AS source_ref, c.content AS content, c.size AS size,
       c.created_at AS created_at, c.updated_at AS updated_at`,
	}

	stmtList = graph.Statement{
		graph.DialectSQLite: `
SELECT key, name, domain, about, context, comment, source_ref, content, size, created_at, updated_at
FROM components ORDER BY name, key`,
		graph.DialectCypher: `
MATCH (c:Component)
RETURN c.key AS key, c.name AS name, c.domain AS domain, c.about AS about, c.context AS context,
       c.comment AS comment, c.source_ref AS source_ref, c.content AS content, c.size AS size,
       c.created_at AS created_at, c.updated_at AS updated_at
ORDER BY name, key`,
	}
)

// Store ingests components and reads them back.
type Store struct {
	engine  graph.Engine
	fetcher fetch.Fetcher
	now     func() time.Time
}

// NewStore creates a Store. fetcher may be nil when only Upsert is used.
func NewStore(engine graph.Engine, fetcher fetch.Fetcher) *Store {
	return &Store{
		engine:  engine,
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the engine-side key constraint where the dialect
// needs one. The SQLite schema already declares the primary key.
func (s *Store) EnsureSchema(ctx context.Context) error {
	text, err := stmtConstraint.For(s.engine.Dialect())
	if err != nil {
		return nil
	}
	return s.engine.Write(ctx, func(tx graph.Tx) error {
		_, err := tx.Exec(ctx, text, nil)
		return err
	})
}

// Ingest fetches the content behind ref and upserts it with fields.
func (s *Store) Ingest(ctx context.Context, ref string, fields models.Descriptive) (*models.Component, error) {
	content, err := s.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, content, ref, fields)
}

// Fetch returns the content behind ref. Every failure wraps apperr.ErrFetch.
func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("%w: no fetcher configured", apperr.ErrFetch)
	}
	content, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		if !errors.Is(err, apperr.ErrFetch) {
			err = fmt.Errorf("%w: %w", apperr.ErrFetch, err)
		}
		return nil, err
	}
	return content, nil
}

// Upsert stores content the caller already holds. sourceRef is recorded
// as given.
func (s *Store) Upsert(ctx context.Context, content []byte, sourceRef string, fields models.Descriptive) (*models.Component, error) {
	return s.upsert(ctx, content, sourceRef, fields)
}

func (s *Store) upsert(ctx context.Context, content []byte, sourceRef string, fields models.Descriptive) (*models.Component, error) {
	d := s.engine.Dialect()
	upsert, err := stmtUpsert.For(d)
	if err != nil {
		return nil, err
	}
	get, err := stmtGet.For(d)
	if err != nil {
		return nil, err
	}

	if content == nil {
		content = []byte{}
	}
	key := checksum.Sum(content)
	params := graph.Params{
		"key":        key,
		"name":       fields.Name,
		"domain":     fields.Domain,
		"about":      fields.About,
		"context":    fields.Context,
		"comment":    fields.Comment,
		"source_ref": sourceRef,
		"content":    content,
		"size":       len(content),
		"now":        s.now(),
	}

	var out *models.Component
	err = s.engine.Write(ctx, func(tx graph.Tx) error {
		if _, err := tx.Exec(ctx, upsert, params); err != nil {
			return err
		}
		recs, err := tx.Query(ctx, get, graph.Params{"key": key})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return fmt.Errorf("component %s vanished after upsert", key)
		}
		out = fromRecord(recs[0])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("component: upsert %s: %w: %w", key, apperr.ErrTransaction, err)
	}
	return out, nil
}

// Get returns the component with key.
func (s *Store) Get(ctx context.Context, key string) (*models.Component, error) {
	if !checksum.Valid(key) {
		return nil, fmt.Errorf("component %q: %w", key, apperr.ErrNotFound)
	}
	get, err := stmtGet.For(s.engine.Dialect())
	if err != nil {
		return nil, err
	}
	var recs []graph.Record
	err = s.engine.Read(ctx, func(tx graph.Tx) error {
		recs, err = tx.Query(ctx, get, graph.Params{"key": key})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("component: get %s: %w: %w", key, apperr.ErrQueryExecution, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("component %s: %w", key, apperr.ErrNotFound)
	}
	return fromRecord(recs[0]), nil
}

// List returns every component ordered by name.
func (s *Store) List(ctx context.Context) ([]models.Component, error) {
	list, err := stmtList.For(s.engine.Dialect())
	if err != nil {
		return nil, err
	}
	var recs []graph.Record
	err = s.engine.Read(ctx, func(tx graph.Tx) error {
		recs, err = tx.Query(ctx, list, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("component: list: %w: %w", apperr.ErrQueryExecution, err)
	}
	out := make([]models.Component, 0, len(recs))
	for _, r := range recs {
		out = append(out, *fromRecord(r))
	}
	return out, nil
}

func fromRecord(r graph.Record) *models.Component {
	return &models.Component{
		Key: r.String("key"),
		Descriptive: models.Descriptive{
			Name:    r.String("name"),
			Domain:  r.String("domain"),
			About:   r.String("about"),
			Context: r.String("context"),
			Comment: r.String("comment"),
		},
		SourceRef: r.String("source_ref"),
		Content:   r.Bytes("content"),
		Size:      r.Int("size"),
		CreatedAt: r.Time("created_at"),
		UpdatedAt: r.Time("updated_at"),
	}
}
