package api

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/models"
	"github.com/starford/marcom/internal/query"
	"github.com/starford/marcom/internal/tabular"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *catalog.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *catalog.Service) *Handler {
	return &Handler{svc: svc}
}

// ListComponents handles GET /api/components.
//
//	@Summary		Query components by property filters and tag criteria
//	@Tags			components
//	@Produce		json
//	@Param			domain		query		[]string	false	"Domain values (OR)"
//	@Param			about		query		[]string	false	"About values (OR)"
//	@Param			context		query		[]string	false	"Context values (OR)"
//	@Param			size		query		string		false	"Size bucket"	Enums(bullet, summary, description, overview)
//	@Param			criteria	query		string		false	"Tag expression, e.g. 'acme' & ('cloud' | 'edge')"
//	@Param			unique		query		bool		false	"One row per component"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/components [get]
func (h *Handler) ListComponents(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	criteria := values.Get("criteria")
	var unique bool
	if raw := values.Get("unique"); raw != "" {
		var err error
		if unique, err = strconv.ParseBool(raw); err != nil {
			writeError(w, "parse filters", apperr.Filter("unique must be true or false, got %q", raw))
			return
		}
	}
	values.Del("criteria")
	values.Del("unique")

	c, err := query.ParseConstraints(values)
	if err != nil {
		writeError(w, "parse filters", err)
		return
	}
	results, err := h.svc.Search(r.Context(), c, criteria, unique)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNilSlice(results), Count: len(results)})
}

// GetComponent handles GET /api/components/{key}.
//
//	@Summary		Get a component with its content and tags
//	@Tags			components
//	@Produce		json
//	@Param			key	path		string	true	"Content digest"
//	@Success		200	{object}	ComponentDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/components/{key} [get]
func (h *Handler) GetComponent(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, "get component", err)
		return
	}
	c.Tags = nonNilSlice(c.Tags)
	writeJSON(w, http.StatusOK, c)
}

// ComponentTags handles GET /api/components/{key}/tags.
//
//	@Summary		List the tags linked to a component
//	@Tags			components
//	@Produce		json
//	@Param			key	path		string	true	"Content digest"
//	@Success		200	{object}	TagsResponse
//	@Security		BearerAuth
//	@Router			/components/{key}/tags [get]
func (h *Handler) ComponentTags(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Tags(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, "component tags", err)
		return
	}
	tags := make([]models.Tag, 0, len(names))
	for _, n := range names {
		tags = append(tags, models.Tag{Name: n})
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

// LinkComponent handles POST /api/components/{key}/link.
//
//	@Summary		Extract tags from a component and link registered ones
//	@Tags			components
//	@Produce		json
//	@Param			key	path		string	true	"Content digest"
//	@Success		200	{object}	linker.LinkSummary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/components/{key}/link [post]
func (h *Handler) LinkComponent(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Link(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, "link component", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// PropertyValues handles GET /api/properties/{field}.
//
//	@Summary		List the distinct stored values of a property
//	@Tags			properties
//	@Produce		json
//	@Param			field	path		string	true	"Property"	Enums(domain, about, context)
//	@Success		200		{object}	ValuesResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/properties/{field} [get]
func (h *Handler) PropertyValues(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	values, err := h.svc.PropertyValues(r.Context(), field)
	if err != nil {
		writeError(w, "property values", err)
		return
	}
	writeJSON(w, http.StatusOK, ValuesResponse{Field: field, Values: nonNilSlice(values)})
}

// ListTags handles GET /api/tags.
//
//	@Summary		List registered tags
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagsResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ListTags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: nonNilSlice(tags)})
}

// RegisterTag handles POST /api/tags.
//
//	@Summary		Register a tag (no-op when it already exists, ignoring case)
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterTagRequest	true	"Tag to register"
//	@Success		201		{object}	RegisterTagResponse
//	@Success		200		{object}	RegisterTagResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags [post]
func (h *Handler) RegisterTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RegisterTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	tag, created, err := h.svc.RegisterTag(r.Context(), req.Name)
	if err != nil {
		writeError(w, "register tag", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, RegisterTagResponse{Tag: *tag, Created: created})
}

// Ingest handles POST /api/ingest. The body is either a JSON IngestRequest
// or a CSV table with the ingestion columns (Content-Type text/csv).
//
//	@Summary		Ingest a batch of components from source references
//	@Tags			components
//	@Accept			json
//	@Accept			text/csv
//	@Produce		json
//	@Param			body	body		IngestRequest	true	"Rows to ingest"
//	@Success		200		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ingest [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req IngestRequest
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "text/csv" {
		rows, err := tabular.ReadIngestRows(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		req.Rows = rows
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rep, err := h.svc.IngestAll(r.Context(), req.Rows)
	if err != nil {
		slog.Warn("ingest interrupted", slog.String("error", err.Error()))
	}
	if rep == nil {
		writeError(w, "ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{
		RunID:      rep.RunID,
		Components: nonNilSlice(rep.Components),
		Items:      nonNilSlice(rep.Items),
		Failures:   failures(rep.Errors),
	})
}
