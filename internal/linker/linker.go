// Package linker writes the HAS_TAG/TAG_OF edge pairs between components
// and registered tags.
package linker

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/graph"
	"github.com/starford/marcom/internal/models"
	"github.com/starford/marcom/internal/tagging"
	"github.com/starford/marcom/internal/tagregistry"
)

var (
	stmtComponentExists = graph.Statement{
		graph.DialectSQLite: `SELECT 1 AS found FROM components WHERE key = $key`,
		graph.DialectCypher: `MATCH (c:Component {key: $key}) RETURN 1 AS found`,
	}

	// Both directions are written by one statement so neither can exist
	// without the other.
	stmtLink = graph.Statement{
		graph.DialectSQLite: `
INSERT OR IGNORE INTO edges (component_key, tag_id, type, created_at)
SELECT $key, t.id, d.type, $now
FROM tags t, (SELECT 'HAS_TAG' AS type UNION ALL SELECT 'TAG_OF' AS type) d
WHERE t.name_lower = $tag`,
		graph.DialectCypher: `
MATCH (c:Component {key: $key}), (t:Tag {name_lower: $tag})
MERGE (c)-[:HAS_TAG]->(t)
MERGE (t)-[:TAG_OF]->(c)`,
	}

	stmtEdges = graph.Statement{
		graph.DialectSQLite: `
SELECT t.name AS name
FROM edges e JOIN tags t ON t.id = e.tag_id
WHERE e.component_key = $key AND e.type = 'HAS_TAG'
ORDER BY t.name_lower`,
		graph.DialectCypher: `
MATCH (c:Component {key: $key})-[:HAS_TAG]->(t:Tag)
RETURN t.name AS name ORDER BY t.name_lower`,
	}
)

// Status is the result of linking one candidate.
type Status string

const (
	StatusLinked        Status = "linked"
	StatusAlreadyLinked Status = "already_linked"
	StatusSkipped       Status = "skipped" // tag not registered
)

// Outcome records what happened to one candidate.
type Outcome struct {
	Tag    string `json:"tag"`
	Status Status `json:"status"`
}

// LinkSummary tallies the outcomes of one Link call.
type LinkSummary struct {
	Created       int       `json:"created"`
	Skipped       int       `json:"skipped"`
	AlreadyLinked int       `json:"already_linked"`
	Outcomes      []Outcome `json:"outcomes"`
}

// Linker connects components to registered tags. It never creates tags.
type Linker struct {
	engine    graph.Engine
	registry  *tagregistry.Registry
	extractor *tagging.Extractor
}

// New creates a Linker. extractor is only needed by LinkComponent.
func New(engine graph.Engine, registry *tagregistry.Registry, extractor *tagging.Extractor) *Linker {
	return &Linker{engine: engine, registry: registry, extractor: extractor}
}

// Link connects the component with key to every candidate name present in
// the registry, all inside one write transaction. Unknown names are
// skipped. Repeated names within candidates are considered once.
func (l *Linker) Link(ctx context.Context, key string, candidates []string) (*LinkSummary, error) {
	d := l.engine.Dialect()
	exists, err := stmtComponentExists.For(d)
	if err != nil {
		return nil, err
	}
	link, err := stmtLink.For(d)
	if err != nil {
		return nil, err
	}

	var sum *LinkSummary
	err = l.engine.Write(ctx, func(tx graph.Tx) error {
		sum = &LinkSummary{}
		recs, err := tx.Query(ctx, exists, graph.Params{"key": key})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return fmt.Errorf("component %s: %w", key, apperr.ErrNotFound)
		}

		now := time.Now().UTC()
		seen := make(map[string]bool, len(candidates))
		for _, cand := range candidates {
			name := models.NormalizeTag(cand)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true

			ok, err := l.registry.ExistsTx(ctx, tx, name)
			if err != nil {
				return err
			}
			if !ok {
				sum.Skipped++
				sum.Outcomes = append(sum.Outcomes, Outcome{Tag: name, Status: StatusSkipped})
				continue
			}
			res, err := tx.Exec(ctx, link, graph.Params{"key": key, "tag": name, "now": now})
			if err != nil {
				return fmt.Errorf("link %q: %w", name, err)
			}
			if res.Affected > 0 {
				sum.Created++
				sum.Outcomes = append(sum.Outcomes, Outcome{Tag: name, Status: StatusLinked})
			} else {
				sum.AlreadyLinked++
				sum.Outcomes = append(sum.Outcomes, Outcome{Tag: name, Status: StatusAlreadyLinked})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("linker: %s: %w: %w", key, apperr.ErrTransaction, err)
	}
	return sum, nil
}

// LinkComponent extracts candidates from the component's content and links
// them. The candidates are returned for auditing.
func (l *Linker) LinkComponent(ctx context.Context, c *models.Component) (*LinkSummary, []tagging.Candidate, error) {
	if l.extractor == nil {
		return nil, nil, fmt.Errorf("linker: no extractor configured")
	}
	cands, err := tagging.Collect(l.extractor.Extract(tagging.TextForTagging(c.Content)))
	if err != nil {
		return nil, nil, fmt.Errorf("linker: extract %s: %w", c.Key, err)
	}
	sum, err := l.Link(ctx, c.Key, tagging.Names(cands))
	return sum, cands, err
}

// Edges returns the tags the component with key is linked to.
func (l *Linker) Edges(ctx context.Context, key string) ([]models.Tag, error) {
	text, err := stmtEdges.For(l.engine.Dialect())
	if err != nil {
		return nil, err
	}
	var recs []graph.Record
	err = l.engine.Read(ctx, func(tx graph.Tx) error {
		recs, err = tx.Query(ctx, text, graph.Params{"key": key})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("linker: edges %s: %w: %w", key, apperr.ErrQueryExecution, err)
	}
	out := make([]models.Tag, 0, len(recs))
	for _, r := range recs {
		out = append(out, models.Tag{Name: r.String("name")})
	}
	return out, nil
}
