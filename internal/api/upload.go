package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/starford/marcom/internal/frontmatter"
	"github.com/starford/marcom/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Upload handles POST /api/components (multipart/form-data, field "file"
// plus the descriptive fields name, domain, about, context and comment).
// Markdown files may carry the same fields as YAML front matter; form
// values take precedence. The name defaults to the file name without its
// extension.
//
//	@Summary		Upload content as a component
//	@Tags			components
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Content"
//	@Param			name	formData	string	false	"Component name"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/components [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	base := filepath.Base(header.Filename)
	fields := models.Descriptive{
		Name:    r.FormValue("name"),
		Domain:  r.FormValue("domain"),
		About:   r.FormValue("about"),
		Context: r.FormValue("context"),
		Comment: r.FormValue("comment"),
	}
	if frontmatter.IsMarkdown(base) {
		if meta, ok := frontmatter.Parse(content); ok {
			meta.Fill(&fields)
		}
	}
	if fields.Name == "" {
		fields.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	c, sum, err := h.svc.IngestUpload(r.Context(), content, "upload:"+base, fields)
	if err != nil {
		writeError(w, "upload component", err)
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{Component: c, Link: sum})
}
