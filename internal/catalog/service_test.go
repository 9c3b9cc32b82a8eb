package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/checksum"
	"github.com/starford/marcom/internal/fetch"
	"github.com/starford/marcom/internal/metrics"
	"github.com/starford/marcom/internal/models"
	"github.com/starford/marcom/internal/oplog"
	"github.com/starford/marcom/internal/query"
	"github.com/starford/marcom/internal/sse"
	"github.com/starford/marcom/internal/tagging"
	"github.com/starford/marcom/internal/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

type staticRecognizer struct{ a tagging.Analysis }

func (s staticRecognizer) Analyze(string) (tagging.Analysis, error) { return s.a, nil }

var launchAnalysis = tagging.Analysis{
	Entities: []tagging.Entity{{Text: "Acme Corp", Label: "ORG"}},
	Phrases:  []string{"the cloud", "widget"},
}

type fixture struct {
	svc     *Service
	logPath string
	metrics *metrics.Metrics
}

func setup(t *testing.T, files map[string]string, opts Options) fixture {
	t.Helper()
	return setupFetcher(t, testutil.MapFetcher(files), opts)
}

func setupFetcher(t *testing.T, fetcher fetch.Fetcher, opts Options) fixture {
	t.Helper()
	e := testutil.TestEngine(t)
	logPath := filepath.Join(t.TempDir(), "ops.csv")
	log, err := oplog.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	opts.OpLog = log
	opts.Metrics = m
	svc := New(e, fetcher, tagging.NewExtractor(staticRecognizer{a: launchAnalysis}), opts)
	if err := svc.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	return fixture{svc: svc, logPath: logPath, metrics: m}
}

func (f fixture) logRows(t *testing.T) [][]string {
	t.Helper()
	file, err := os.Open(f.logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func countResult(rows [][]string, result string) int {
	n := 0
	for _, r := range rows {
		if r[0] == result {
			n++
		}
	}
	return n
}

func TestIngestAllContinuesPastFailures(t *testing.T) {
	f := setup(t, map[string]string{
		"a": "Acme Corp ships the cloud widget",
		"b": "Second fragment",
	}, Options{Workers: 2})

	rows := []models.IngestRow{
		{Name: "Launch", Domain: "marketing", Source: "a"},
		{Name: "", Source: "b"},           // invalid
		{Name: "Missing", Source: "nope"}, // fetch failure
		{Name: "Second", Domain: "sales", Source: "b"},
	}
	rep, err := f.svc.IngestAll(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunID == "" {
		t.Error("run id not set")
	}
	if len(rep.Components) != 2 || rep.Failed() != 2 {
		t.Fatalf("ingested %d, failed %d", len(rep.Components), rep.Failed())
	}
	if rep.Components[0].Name != "Launch" || rep.Components[1].Name != "Second" {
		t.Errorf("components not in row order: %q, %q", rep.Components[0].Name, rep.Components[1].Name)
	}

	var fetchErr bool
	for _, ie := range ItemErrors(rep.Errors) {
		if ie.Name == "Missing" && errors.Is(ie, apperr.ErrFetch) {
			fetchErr = true
		}
	}
	if !fetchErr {
		t.Errorf("fetch failure not reported as ErrFetch item: %v", rep.Errors)
	}

	rows2 := f.logRows(t)
	if countResult(rows2, oplog.AddedComponent) != 2 {
		t.Errorf("log rows = %q", rows2)
	}
	if got := promtest.ToFloat64(f.metrics.Ingested.WithLabelValues("ok")); got != 2 {
		t.Errorf("ingested ok = %v", got)
	}
	if got := promtest.ToFloat64(f.metrics.Ingested.WithLabelValues("invalid")); got != 1 {
		t.Errorf("ingested invalid = %v", got)
	}
}

// slowFetcher delays the references in slow before serving them.
type slowFetcher struct {
	testutil.MapFetcher
	slow map[string]time.Duration
}

func (f slowFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if d, ok := f.slow[ref]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.MapFetcher.Fetch(ctx, ref)
}

func TestIngestAllDuplicateContentLaterRowWins(t *testing.T) {
	fetcher := slowFetcher{
		MapFetcher: testutil.MapFetcher{"a": "a widget", "b": "a widget"},
		slow:       map[string]time.Duration{"a": 100 * time.Millisecond},
	}
	f := setupFetcher(t, fetcher, Options{Workers: 4, LinkOnIngest: true})
	ctx := context.Background()
	if _, _, err := f.svc.RegisterTag(ctx, "Widget"); err != nil {
		t.Fatal(err)
	}

	rep, err := f.svc.IngestAll(ctx, []models.IngestRow{
		{Name: "First", Domain: "sales", Source: "a"},
		{Name: "Renamed", Domain: "marketing", Source: "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	key := checksum.Sum([]byte("a widget"))
	if len(rep.Items) != 2 {
		t.Fatalf("items = %+v", rep.Items)
	}
	for i, it := range rep.Items {
		if it.Row != i || it.Component.Key != key {
			t.Errorf("item %d = row %d key %s", i, it.Row, it.Component.Key)
		}
		if it.Link == nil || it.Link.Created+it.Link.AlreadyLinked != 1 {
			t.Errorf("item %d link = %+v", i, it.Link)
		}
	}

	got, err := f.svc.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" || got.Domain != "marketing" || got.SourceRef != "b" || got.Content != "a widget" {
		t.Errorf("detail = %+v", got.Component)
	}
	if len(got.Tags) != 1 {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestSeedLinkAndSearch(t *testing.T) {
	f := setup(t, map[string]string{"a": "Acme Corp ships the cloud widget"}, Options{})
	ctx := context.Background()

	seed, err := f.svc.SeedTags(ctx, []models.TagSeed{{Tag: "Acme Corp"}, {Tag: "Widget"}, {Tag: "acme  corp"}, {Tag: ""}})
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.Created) != 2 || len(seed.Existing) != 1 || len(seed.Errors) != 1 {
		t.Fatalf("seed report = %+v", seed)
	}

	ing, err := f.svc.IngestAll(ctx, []models.IngestRow{{Name: "Launch", Domain: "marketing", Source: "a"}})
	if err != nil || len(ing.Components) != 1 {
		t.Fatalf("ingest: %v %+v", err, ing)
	}
	key := ing.Components[0].Key

	rep, err := f.svc.LinkAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Items) != 1 {
		t.Fatalf("link items = %+v", rep.Items)
	}
	sum := rep.Items[0].Summary
	if sum.Created != 2 || sum.Skipped != 1 {
		t.Errorf("summary = %+v", sum)
	}

	tags, err := f.svc.Tags(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 || tags[0] != "Acme Corp" || tags[1] != "Widget" {
		t.Errorf("tags = %v", tags)
	}

	rows := f.logRows(t)
	if countResult(rows, oplog.TagAudit) != 3 || countResult(rows, oplog.RelatedTag) != 2 ||
		countResult(rows, oplog.SkippedTag) != 1 || countResult(rows, oplog.Summary) != 1 {
		t.Errorf("log rows = %q", rows)
	}
	var audited bool
	for _, r := range rows {
		if r[0] == oplog.TagAudit && r[1] == "the cloud" && r[2] == "cloud" {
			audited = true
		}
	}
	if !audited {
		t.Errorf("audit row for stripped phrase missing: %q", rows)
	}

	res, err := f.svc.Search(ctx, query.Constraints{Domain: []string{"marketing"}}, "'acme' | 'widget'", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Errorf("results = %+v", res)
	}
	res, err = f.svc.Search(ctx, query.Constraints{Domain: []string{"marketing"}}, "'acme' | 'widget'", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Key != key {
		t.Errorf("unique results = %+v", res)
	}

	// Relinking creates nothing new.
	again, err := f.svc.Link(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created != 0 || again.AlreadyLinked != 2 {
		t.Errorf("relink = %+v", again)
	}
}

func TestSearchInvalidCriteria(t *testing.T) {
	f := setup(t, nil, Options{})
	_, err := f.svc.Search(context.Background(), query.Constraints{}, "'a' ; drop", false)
	if !errors.Is(err, apperr.ErrInvalidCriteria) {
		t.Fatalf("err = %v", err)
	}
	if got := promtest.ToFloat64(f.metrics.Queries.WithLabelValues("invalid")); got != 1 {
		t.Errorf("invalid queries = %v", got)
	}
}

func TestLinkKeysReportsUnknown(t *testing.T) {
	f := setup(t, nil, Options{})
	rep, err := f.svc.LinkKeys(context.Background(), []string{"deadbeef"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 1 || !errors.Is(rep.Errors[0], apperr.ErrNotFound) {
		t.Errorf("errors = %v", rep.Errors)
	}
}

func TestLinkOnIngestPublishesEvents(t *testing.T) {
	b := sse.NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()

	f := setup(t, nil, Options{LinkOnIngest: true, Events: b})
	ctx := context.Background()
	if _, _, err := f.svc.RegisterTag(ctx, "Widget"); err != nil {
		t.Fatal(err)
	}
	c, sum, err := f.svc.IngestUpload(ctx, []byte("a widget"), "upload", models.Descriptive{Name: "Upload"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Size != len("a widget") || sum == nil || sum.Created != 1 {
		t.Fatalf("component %+v summary %+v", c, sum)
	}

	want := map[string]bool{sse.TypeTagRegistered: false, sse.TypeComponentIngested: false, sse.TypeComponentLinked: false}
	deadline := time.After(time.Second)
	for !(want[sse.TypeTagRegistered] && want[sse.TypeComponentIngested] && want[sse.TypeComponentLinked]) {
		select {
		case msg := <-ch:
			for typ := range want {
				if containsEvent(msg, typ) {
					want[typ] = true
				}
			}
		case <-deadline:
			t.Fatalf("events seen = %v", want)
		}
	}
}

func containsEvent(msg []byte, typ string) bool {
	return strings.Contains(string(msg), "event: "+typ+"\n")
}

func TestRegisterTagExisting(t *testing.T) {
	f := setup(t, nil, Options{})
	ctx := context.Background()
	if _, created, err := f.svc.RegisterTag(ctx, "Cloud"); err != nil || !created {
		t.Fatalf("first register: created=%v err=%v", created, err)
	}
	tag, created, err := f.svc.RegisterTag(ctx, "CLOUD")
	if err != nil || created || tag.Name != "Cloud" {
		t.Fatalf("second register: %+v created=%v err=%v", tag, created, err)
	}
	tags, err := f.svc.ListTags(ctx)
	if err != nil || len(tags) != 1 {
		t.Fatalf("tags = %v err = %v", tags, err)
	}
}

func TestGetUnknown(t *testing.T) {
	f := setup(t, nil, Options{})
	if _, err := f.svc.Get(context.Background(), checksum.Sum([]byte("x"))); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
