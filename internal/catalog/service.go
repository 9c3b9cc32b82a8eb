// Package catalog coordinates ingestion, tag seeding, linking and retrieval
// over one graph engine. It is the batch API used by the CLI, the HTTP
// server, the MCP tools and the inbox watcher.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/component"
	"github.com/starford/marcom/internal/fetch"
	"github.com/starford/marcom/internal/graph"
	"github.com/starford/marcom/internal/linker"
	"github.com/starford/marcom/internal/metrics"
	"github.com/starford/marcom/internal/models"
	"github.com/starford/marcom/internal/oplog"
	"github.com/starford/marcom/internal/query"
	"github.com/starford/marcom/internal/sse"
	"github.com/starford/marcom/internal/tagging"
	"github.com/starford/marcom/internal/tagregistry"
)

const defaultWorkers = 4

// Options carries the optional collaborators of a Service. Zero values are
// valid: nil sinks discard.
type Options struct {
	Workers      int
	LinkOnIngest bool
	OpLog        *oplog.Log
	Metrics      *metrics.Metrics
	Events       *sse.Broker
	Logger       *slog.Logger
}

// Service is the catalog's batch API.
type Service struct {
	engine   graph.Engine
	store    *component.Store
	registry *tagregistry.Registry
	linker   *linker.Linker
	compiler *query.Compiler
	executor *query.Executor

	workers      int
	linkOnIngest bool
	oplog        *oplog.Log
	metrics      *metrics.Metrics
	events       *sse.Broker
	log          *slog.Logger
}

// New wires a Service over engine.
func New(engine graph.Engine, fetcher fetch.Fetcher, extractor *tagging.Extractor, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	reg := tagregistry.New(engine)
	return &Service{
		engine:       engine,
		store:        component.NewStore(engine, fetcher),
		registry:     reg,
		linker:       linker.New(engine, reg, extractor),
		compiler:     query.NewCompiler(engine.Dialect()),
		executor:     query.NewExecutor(engine, opts.Logger),
		workers:      opts.Workers,
		linkOnIngest: opts.LinkOnIngest,
		oplog:        opts.OpLog,
		metrics:      opts.Metrics,
		events:       opts.Events,
		log:          opts.Logger,
	}
}

// Setup creates the component constraints and the tag uniqueness index.
// Callers should abort when it fails.
func (s *Service) Setup(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.registry.EnsureUniqueIndex(ctx)
}

func (s *Service) record(entries ...oplog.Entry) {
	if err := s.oplog.Append(entries...); err != nil {
		s.log.Warn("operation log append failed", slog.String("error", err.Error()))
	}
}

// IngestItem is the outcome of one stored row.
type IngestItem struct {
	Row       int                 `json:"row"` // zero-based position in the batch
	Component *models.Component   `json:"component"`
	Link      *linker.LinkSummary `json:"link,omitempty"`
	LinkError string              `json:"link_error,omitempty"`
}

// IngestReport is the result of IngestAll.
type IngestReport struct {
	RunID      string              `json:"run_id"`
	Components []*models.Component `json:"components"`
	Items      []IngestItem        `json:"items"`
	Errors     []error             `json:"-"`
}

// Failed returns the number of rows that failed to ingest or link.
func (r *IngestReport) Failed() int { return len(r.Errors) }

// IngestAll ingests every row. Sources are fetched at most Workers at a
// time; the writes are then applied one by one in row order, so when two
// rows carry the same content the later row's fields win. With
// LinkOnIngest, each distinct component is linked once and every row
// sharing it gets the summary. A failing row is logged and reported; it
// never stops its siblings. The returned error is non-nil only when ctx
// ends before the batch completes.
func (s *Service) IngestAll(ctx context.Context, rows []models.IngestRow) (*IngestReport, error) {
	start := time.Now()
	defer s.metrics.Since("ingest", start)

	runID := uuid.NewString()
	log := s.log.With(slog.String("run", runID))

	contents := make([][]byte, len(rows))
	errs := make([]error, len(rows))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			contents[i], errs[i] = s.fetchRow(ctx, row)
			return nil
		})
	}
	_ = g.Wait()

	comps := make([]*models.Component, len(rows))
	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if errs[i] != nil || contents[i] == nil {
			continue
		}
		comps[i], errs[i] = s.storeRow(ctx, contents[i], row)
	}

	links, linkErrs := s.linkIngested(ctx, comps)

	rep := &IngestReport{RunID: runID}
	for i, row := range rows {
		if errs[i] != nil {
			log.Warn("ingest failed", slog.String("name", row.Name), slog.String("source", row.Source), slog.String("error", errs[i].Error()))
			rep.Errors = append(rep.Errors, &apperr.ItemError{Name: row.Name, Err: errs[i]})
			continue
		}
		c := comps[i]
		if c == nil {
			continue
		}
		item := IngestItem{Row: i, Component: c, Link: links[c.Key]}
		if err := linkErrs[c.Key]; err != nil {
			item.LinkError = err.Error()
			rep.Errors = append(rep.Errors, &apperr.ItemError{Name: c.Name, Key: c.Key, Err: err})
		}
		rep.Components = append(rep.Components, c)
		rep.Items = append(rep.Items, item)
	}
	log.Info("ingest finished",
		slog.Int("rows", len(rows)),
		slog.Int("ingested", len(rep.Components)),
		slog.Int("failed", rep.Failed()),
	)
	return rep, ctx.Err()
}

// fetchRow validates row and fetches its source.
func (s *Service) fetchRow(ctx context.Context, row models.IngestRow) ([]byte, error) {
	if err := row.Validate(); err != nil {
		s.metrics.Ingest("invalid")
		s.record(oplog.Entry{Result: oplog.FailedComponent + ": " + err.Error(), Subject: row.Name})
		return nil, err
	}
	content, err := s.store.Fetch(ctx, row.Source)
	if err != nil {
		s.metrics.Ingest("error")
		s.record(oplog.Entry{Result: oplog.FailedComponent + ": " + err.Error(), Subject: row.Name})
		return nil, err
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

func (s *Service) storeRow(ctx context.Context, content []byte, row models.IngestRow) (*models.Component, error) {
	c, err := s.store.Upsert(ctx, content, row.Source, row.Fields())
	if err != nil {
		s.metrics.Ingest("error")
		s.record(oplog.Entry{Result: oplog.FailedComponent + ": " + err.Error(), Subject: row.Name})
		return nil, err
	}
	s.ingested(c)
	return c, nil
}

// linkIngested links each distinct component in comps once, using the
// state left by the last row that wrote it.
func (s *Service) linkIngested(ctx context.Context, comps []*models.Component) (map[string]*linker.LinkSummary, map[string]error) {
	if !s.linkOnIngest {
		return nil, nil
	}
	latest := make(map[string]*models.Component)
	var order []string
	for _, c := range comps {
		if c == nil {
			continue
		}
		if _, seen := latest[c.Key]; !seen {
			order = append(order, c.Key)
		}
		latest[c.Key] = c
	}

	sums := make([]*linker.LinkSummary, len(order))
	errs := make([]error, len(order))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, key := range order {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sums[i], _, errs[i] = s.linkComponent(ctx, latest[key])
			return nil
		})
	}
	_ = g.Wait()

	links := make(map[string]*linker.LinkSummary, len(order))
	linkErrs := make(map[string]error)
	for i, key := range order {
		if errs[i] != nil {
			linkErrs[key] = errs[i]
			continue
		}
		if sums[i] != nil {
			links[key] = sums[i]
		}
	}
	return links, linkErrs
}

func (s *Service) ingested(c *models.Component) {
	s.metrics.Ingest("ok")
	s.record(oplog.Entry{Result: oplog.AddedComponent, Subject: c.Name, Key: c.Key})
	s.events.PublishChange(sse.TypeComponentIngested, sse.ComponentChange{Key: c.Key, Name: c.Name})
}

// IngestUpload stores content the caller already holds.
func (s *Service) IngestUpload(ctx context.Context, content []byte, sourceRef string, fields models.Descriptive) (*models.Component, *linker.LinkSummary, error) {
	row := models.IngestRow{Name: fields.Name, Source: sourceRef}
	if err := row.Validate(); err != nil {
		s.metrics.Ingest("invalid")
		return nil, nil, err
	}
	c, err := s.store.Upsert(ctx, content, sourceRef, fields)
	if err != nil {
		s.metrics.Ingest("error")
		s.record(oplog.Entry{Result: oplog.FailedComponent + ": " + err.Error(), Subject: fields.Name})
		return nil, nil, err
	}
	s.ingested(c)
	if !s.linkOnIngest {
		return c, nil, nil
	}
	sum, _, err := s.linkComponent(ctx, c)
	return c, sum, err
}

// SeedReport is the result of SeedTags.
type SeedReport struct {
	RunID    string       `json:"run_id"`
	Created  []models.Tag `json:"created"`
	Existing []models.Tag `json:"existing"`
	Errors   []error      `json:"-"`
}

// SeedTags registers every seed. Invalid or failing seeds are reported and
// skipped; only a failure to create the uniqueness index aborts.
func (s *Service) SeedTags(ctx context.Context, seeds []models.TagSeed) (*SeedReport, error) {
	start := time.Now()
	defer s.metrics.Since("seed", start)

	rep := &SeedReport{RunID: uuid.NewString()}
	names := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if err := seed.Validate(); err != nil {
			s.metrics.Seed("invalid")
			s.record(oplog.Entry{Result: oplog.FailedTag + ": " + err.Error(), Subject: seed.Tag})
			rep.Errors = append(rep.Errors, &apperr.ItemError{Name: seed.Tag, Err: err})
			continue
		}
		names = append(names, seed.Tag)
	}

	results, err := s.registry.SeedAll(ctx, names)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.metrics.Seed("error")
			s.record(oplog.Entry{Result: oplog.FailedTag + ": " + r.Err.Error(), Subject: r.Name})
			rep.Errors = append(rep.Errors, r.Err)
		case r.Created:
			s.metrics.Seed("created")
			s.record(oplog.Entry{Result: oplog.AddedTag, Subject: r.Tag.Name, Key: models.NormalizeTag(r.Tag.Name)})
			s.events.Publish(sse.Event{Type: sse.TypeTagRegistered, Data: r.Tag})
			rep.Created = append(rep.Created, *r.Tag)
		default:
			s.metrics.Seed("existing")
			s.record(oplog.Entry{Result: oplog.ExistingTag, Subject: r.Tag.Name, Key: models.NormalizeTag(r.Tag.Name)})
			rep.Existing = append(rep.Existing, *r.Tag)
		}
	}
	s.log.Info("tag seeding finished",
		slog.String("run", rep.RunID),
		slog.Int("created", len(rep.Created)),
		slog.Int("existing", len(rep.Existing)),
		slog.Int("failed", len(rep.Errors)),
	)
	return rep, nil
}

// RegisterTag registers one tag.
func (s *Service) RegisterTag(ctx context.Context, name string) (*models.Tag, bool, error) {
	rep, err := s.SeedTags(ctx, []models.TagSeed{{Tag: name}})
	if err != nil {
		return nil, false, err
	}
	switch {
	case len(rep.Errors) > 0:
		return nil, false, rep.Errors[0]
	case len(rep.Created) > 0:
		return &rep.Created[0], true, nil
	default:
		return &rep.Existing[0], false, nil
	}
}

// ListTags returns every registered tag.
func (s *Service) ListTags(ctx context.Context) ([]models.Tag, error) {
	return s.registry.List(ctx)
}

// LinkItem is the linking result for one component.
type LinkItem struct {
	Key     string              `json:"key"`
	Name    string              `json:"name"`
	Summary *linker.LinkSummary `json:"summary"`
}

// LinkReport is the result of LinkKeys and LinkAll.
type LinkReport struct {
	RunID  string     `json:"run_id"`
	Items  []LinkItem `json:"items"`
	Errors []error    `json:"-"`
}

// LinkAll links every stored component.
func (s *Service) LinkAll(ctx context.Context) (*LinkReport, error) {
	comps, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*models.Component, len(comps))
	for i := range comps {
		ptrs[i] = &comps[i]
	}
	return s.linkBatch(ctx, ptrs, nil)
}

// LinkKeys links the components with the given keys. Unknown keys are
// reported as item errors wrapping apperr.ErrNotFound.
func (s *Service) LinkKeys(ctx context.Context, keys []string) (*LinkReport, error) {
	comps := make([]*models.Component, 0, len(keys))
	var missing []error
	for _, key := range keys {
		c, err := s.store.Get(ctx, key)
		if err != nil {
			missing = append(missing, &apperr.ItemError{Name: key, Key: key, Err: err})
			continue
		}
		comps = append(comps, c)
	}
	return s.linkBatch(ctx, comps, missing)
}

// Link links one component.
func (s *Service) Link(ctx context.Context, key string) (*linker.LinkSummary, error) {
	c, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	sum, _, err := s.linkComponent(ctx, c)
	return sum, err
}

func (s *Service) linkBatch(ctx context.Context, comps []*models.Component, errs []error) (*LinkReport, error) {
	start := time.Now()
	defer s.metrics.Since("link", start)

	rep := &LinkReport{RunID: uuid.NewString(), Errors: errs}
	sums := make([]*linker.LinkSummary, len(comps))
	itemErrs := make([]error, len(comps))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, c := range comps {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sum, _, err := s.linkComponent(ctx, c)
			if err != nil {
				itemErrs[i] = &apperr.ItemError{Name: c.Name, Key: c.Key, Err: err}
				return nil
			}
			sums[i] = sum
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range comps {
		if itemErrs[i] != nil {
			rep.Errors = append(rep.Errors, itemErrs[i])
			continue
		}
		if sums[i] != nil {
			rep.Items = append(rep.Items, LinkItem{Key: c.Key, Name: c.Name, Summary: sums[i]})
		}
	}
	s.log.Info("linking finished",
		slog.String("run", rep.RunID),
		slog.Int("components", len(rep.Items)),
		slog.Int("failed", len(rep.Errors)),
	)
	return rep, ctx.Err()
}

// linkComponent extracts and links tags for c and records the audit trail:
// one row per candidate, one per outcome and a summary.
func (s *Service) linkComponent(ctx context.Context, c *models.Component) (*linker.LinkSummary, []tagging.Candidate, error) {
	sum, cands, err := s.linker.LinkComponent(ctx, c)
	if err != nil {
		s.log.Warn("link failed", slog.String("key", c.Key), slog.String("error", err.Error()))
		s.record(oplog.Entry{Result: oplog.FailedLink + ": " + err.Error(), Subject: c.Name, Key: c.Key})
		return nil, cands, err
	}

	entries := make([]oplog.Entry, 0, len(cands)+len(sum.Outcomes)+1)
	for _, cand := range cands {
		entries = append(entries, oplog.Entry{Result: oplog.TagAudit, Subject: cand.Original, Key: cand.Normalized})
	}
	for _, o := range sum.Outcomes {
		result := oplog.RelatedTag
		switch o.Status {
		case linker.StatusAlreadyLinked:
			result = oplog.AlreadyRelated
		case linker.StatusSkipped:
			result = oplog.SkippedTag
		}
		entries = append(entries, oplog.Entry{Result: result, Subject: o.Tag, Key: c.Key})
	}
	entries = append(entries, oplog.Entry{Result: oplog.Summary, Subject: c.Name, Key: c.Key, Count: oplog.Count(sum.Created)})
	s.record(entries...)

	s.metrics.Link(string(linker.StatusLinked), sum.Created)
	s.metrics.Link(string(linker.StatusAlreadyLinked), sum.AlreadyLinked)
	s.metrics.Link(string(linker.StatusSkipped), sum.Skipped)
	s.events.PublishChange(sse.TypeComponentLinked, sse.ComponentChange{
		Key:     c.Key,
		Name:    c.Name,
		Created: sum.Created,
		Skipped: sum.Skipped,
	})
	return sum, cands, nil
}

// Search compiles the constraints and criteria and runs the query. With
// unique set, each component appears once.
func (s *Service) Search(ctx context.Context, c query.Constraints, criteria string, unique bool) ([]query.Result, error) {
	start := time.Now()
	defer s.metrics.Since("query", start)

	compiled, err := s.compiler.Compile(c, criteria)
	if err != nil {
		s.metrics.Query("invalid")
		return nil, err
	}
	results, err := s.executor.Execute(ctx, compiled)
	if err != nil {
		s.metrics.Query("error")
		return nil, err
	}
	s.metrics.Query("ok")
	if unique {
		results = query.Unique(results)
	}
	return results, nil
}

// ComponentDetail is a component with its content and linked tags.
type ComponentDetail struct {
	models.Component
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// Get returns the component with key and its tags.
func (s *Service) Get(ctx context.Context, key string) (*ComponentDetail, error) {
	c, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	tags, err := s.Tags(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ComponentDetail{Component: *c, Content: string(c.Content), Tags: tags}, nil
}

// Tags returns the names of the tags linked to key.
func (s *Service) Tags(ctx context.Context, key string) ([]string, error) {
	edges, err := s.linker.Edges(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(edges))
	for _, t := range edges {
		out = append(out, t.Name)
	}
	return out, nil
}

// PropertyValues lists the distinct stored values of a filterable field.
func (s *Service) PropertyValues(ctx context.Context, field string) ([]string, error) {
	return s.executor.PropertyValues(ctx, field)
}

// Ping checks the engine.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.engine.Ping(ctx); err != nil {
		return fmt.Errorf("catalog: ping: %w", err)
	}
	return nil
}

// ItemErrors flattens report errors into their ItemError form.
func ItemErrors(errs []error) []*apperr.ItemError {
	out := make([]*apperr.ItemError, 0, len(errs))
	for _, err := range errs {
		var ie *apperr.ItemError
		if errors.As(err, &ie) {
			out = append(out, ie)
			continue
		}
		out = append(out, &apperr.ItemError{Err: err})
	}
	return out
}
