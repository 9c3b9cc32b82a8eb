package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/linker"
	"github.com/starford/marcom/internal/tagging"
	"github.com/starford/marcom/internal/testutil"
)

type staticRecognizer struct{}

func (staticRecognizer) Analyze(string) (tagging.Analysis, error) {
	return tagging.Analysis{
		Entities: []tagging.Entity{{Text: "Acme Corp", Label: "ORG"}},
		Phrases:  []string{"a widget"},
	}, nil
}

var sources = testutil.MapFetcher{
	"a": "Acme Corp ships a widget",
	"b": "Short",
}

// testEnv sets up a temp SQLite engine, catalog service, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) http.Handler {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) http.Handler {
	t.Helper()
	e := testutil.TestEngine(t)
	svc := catalog.New(e, sources, tagging.NewExtractor(staticRecognizer{}), catalog.Options{Workers: 2})
	if err := svc.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func ingest(t *testing.T, router http.Handler, rows string) IngestResponse {
	t.Helper()
	w := do(t, router, http.MethodPost, "/ingest", "application/json", []byte(`{"rows":`+rows+`}`))
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[IngestResponse](t, w)
}

func TestRegisterAndListTags(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tags", "application/json", []byte(`{"name":"Acme Corp"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d, body = %s", w.Code, w.Body.String())
	}

	// Same tag in another case is not a new tag.
	w = do(t, router, http.MethodPost, "/tags", "application/json", []byte(`{"name":"ACME  corp"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("re-register = %d", w.Code)
	}
	if got := decode[RegisterTagResponse](t, w); got.Created || got.Tag.Name != "Acme Corp" {
		t.Errorf("re-register = %+v", got)
	}

	w = do(t, router, http.MethodGet, "/tags", "", nil)
	if got := decode[TagsResponse](t, w); len(got.Tags) != 1 {
		t.Errorf("tags = %+v", got.Tags)
	}
}

func TestRegisterTag_Invalid(t *testing.T) {
	router := testEnv(t, "")
	for _, body := range []string{`{}`, `{"name":""}`, `not json`} {
		if w := do(t, router, http.MethodPost, "/tags", "application/json", []byte(body)); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestIngestAndGetComponent(t *testing.T) {
	router := testEnv(t, "")

	rep := ingest(t, router, `[
		{"name":"Launch","domain":"marketing","about":"product","context":"web","source":"a"},
		{"name":"Missing","source":"nope"}
	]`)
	if rep.RunID == "" || len(rep.Components) != 1 || len(rep.Failures) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Failures[0].Name != "Missing" {
		t.Errorf("failure = %+v", rep.Failures[0])
	}
	key := rep.Components[0].Key

	w := do(t, router, http.MethodGet, "/components/"+key, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	c := decode[ComponentDetail](t, w)
	if c.Name != "Launch" || c.Content != sources["a"] || c.Size != len(sources["a"]) {
		t.Errorf("component = %+v", c)
	}
	if c.Tags == nil {
		t.Error("tags should be an empty list, not null")
	}
}

func TestIngestCSV(t *testing.T) {
	router := testEnv(t, "")
	table := "Component Name,Domain,About,Context,Source\nLaunch,marketing,,,a\nTiny,sales,,,b\n"
	w := do(t, router, http.MethodPost, "/ingest", "text/csv; charset=utf-8", []byte(table))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if rep := decode[IngestResponse](t, w); len(rep.Components) != 2 {
		t.Errorf("report = %+v", rep)
	}

	w = do(t, router, http.MethodPost, "/ingest", "text/csv", []byte("Domain\nx\n"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing columns = %d, want 400", w.Code)
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/ingest", "application/json", []byte(`{"rows":[]}`)); w.Code != http.StatusBadRequest {
		t.Errorf("empty batch = %d, want 400", w.Code)
	}
}

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	mw.Close()
	return do(t, router, http.MethodPost, "/components", mw.FormDataContentType(), buf.Bytes())
}

func TestUploadLinkAndTags(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/tags", "application/json", []byte(`{"name":"Widget"}`))

	w := uploadFile(t, router, "hero.txt", []byte("the widget"), map[string]string{"domain": "marketing"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	up := decode[UploadResponse](t, w)
	if up.Component.Name != "hero" || up.Component.Domain != "marketing" || up.Component.SourceRef != "upload:hero.txt" {
		t.Errorf("component = %+v", up.Component)
	}
	key := up.Component.Key

	w = do(t, router, http.MethodPost, "/components/"+key+"/link", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("link = %d, body = %s", w.Code, w.Body.String())
	}
	if sum := decode[linker.LinkSummary](t, w); sum.Created != 1 || sum.Skipped != 1 {
		t.Errorf("summary = %+v", sum)
	}

	w = do(t, router, http.MethodGet, "/components/"+key+"/tags", "", nil)
	if tags := decode[TagsResponse](t, w); len(tags.Tags) != 1 || tags.Tags[0].Name != "Widget" {
		t.Errorf("tags = %+v", tags)
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	router := testEnv(t, "")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", "x")
	mw.Close()
	if w := do(t, router, http.MethodPost, "/components", mw.FormDataContentType(), buf.Bytes()); w.Code != http.StatusBadRequest {
		t.Errorf("missing file = %d, want 400", w.Code)
	}
}

func TestUpload_MarkdownFrontMatter(t *testing.T) {
	router := testEnv(t, "")
	body := []byte("---\ntitle: Spring offer\ndomain: marketing\nabout: pricing\n---\nTwenty percent off.\n")
	w := uploadFile(t, router, "offer.md", body, map[string]string{"domain": "sales"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	c := decode[UploadResponse](t, w).Component
	if c.Name != "Spring offer" || c.Domain != "sales" || c.About != "pricing" || c.Size != len(body) {
		t.Errorf("component = %+v", c)
	}
}

func TestLinkComponent_NotFound(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/components/abc/link", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("link unknown = %d, want 404", w.Code)
	}
}

func TestListComponents(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/tags", "application/json", []byte(`{"name":"Acme Corp"}`))
	do(t, router, http.MethodPost, "/tags", "application/json", []byte(`{"name":"Widget"}`))
	rep := ingest(t, router, `[
		{"name":"Launch","domain":"marketing","source":"a"},
		{"name":"Tiny","domain":"sales","source":"b"}
	]`)
	for _, c := range rep.Components {
		do(t, router, http.MethodPost, "/components/"+c.Key+"/link", "", nil)
	}

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"all", "", http.StatusOK, 2},
		{"domain", "?domain=sales", http.StatusOK, 1},
		{"domain or", "?domain=sales&domain=marketing", http.StatusOK, 2},
		{"bucket", "?size=bullet", http.StatusOK, 2},
		{"criteria rows", "?criteria=" + escape("'acme' | 'widget'"), http.StatusOK, 4},
		{"criteria unique", "?unique=true&criteria=" + escape("'acme' | 'widget'"), http.StatusOK, 2},
		{"criteria and", "?criteria=" + escape("'acme' & 'widget'"), http.StatusOK, 4},
		{"criteria and filter", "?domain=sales&criteria=" + escape("'acme'"), http.StatusOK, 1},
		{"criteria no match", "?criteria=" + escape("'zzz'"), http.StatusOK, 0},
		{"bad criteria", "?criteria=" + escape("'acme' ; x"), http.StatusBadRequest, 0},
		{"unbalanced", "?criteria=" + escape("('acme'"), http.StatusBadRequest, 0},
		{"unknown field", "?colour=red", http.StatusBadRequest, 0},
		{"unknown bucket", "?size=huge", http.StatusBadRequest, 0},
		{"unique false", "?unique=0", http.StatusOK, 2},
		{"bad unique", "?unique=yes", http.StatusBadRequest, 0},
		{"bad unique with criteria", "?unique=sure&criteria=" + escape("'acme'"), http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/components"+tt.query, "", nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.status, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			if got := decode[SearchResponse](t, w); got.Count != tt.count || len(got.Results) != tt.count {
				t.Errorf("count = %d, want %d", got.Count, tt.count)
			}
		})
	}
}

func escape(s string) string {
	r := strings.NewReplacer(" ", "%20", "'", "%27", "&", "%26", "|", "%7C", "(", "%28", ")", "%29", ";", "%3B")
	return r.Replace(s)
}

func TestGetComponent_NotFound(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/components/nope", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get nonexistent = %d, want 404", w.Code)
	}
}

func TestPropertyValues(t *testing.T) {
	router := testEnv(t, "")
	ingest(t, router, `[
		{"name":"Launch","domain":"marketing","source":"a"},
		{"name":"Tiny","domain":"sales","source":"b"}
	]`)

	w := do(t, router, http.MethodGet, "/properties/domain", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[ValuesResponse](t, w)
	if strings.Join(got.Values, ",") != "marketing,sales" {
		t.Errorf("values = %v", got.Values)
	}

	w = do(t, router, http.MethodGet, "/properties/about", "", nil)
	if got := decode[ValuesResponse](t, w); got.Values == nil || len(got.Values) != 0 {
		t.Errorf("empty values = %#v", got.Values)
	}

	if w := do(t, router, http.MethodGet, "/properties/colour", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/tags", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/tags", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/tags", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/tags", "", nil); w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d, want 200", w.Code)
	}
}

// Minimal SSE handler stub that writes headers and blocks until the
// request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret", sseStub)
	if w := do(t, router, http.MethodGet, "/events", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d", w.Code)
	}
}
