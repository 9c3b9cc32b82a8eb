package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/linker"
	"github.com/starford/marcom/internal/models"
	"github.com/starford/marcom/internal/query"
)

// ComponentDetail is the full component response type (aliased from the domain layer).
type ComponentDetail = catalog.ComponentDetail

// SearchResponse wraps query results.
type SearchResponse struct {
	Results []query.Result `json:"results" validate:"required"`
	Count   int            `json:"count" example:"3" validate:"required"`
}

// TagsResponse wraps a tag listing.
type TagsResponse struct {
	Tags []models.Tag `json:"tags" validate:"required"`
}

// ValuesResponse wraps the distinct values of a property.
type ValuesResponse struct {
	Field  string   `json:"field" example:"domain" validate:"required"`
	Values []string `json:"values" validate:"required"`
}

// RegisterTagRequest is the request body for registering a tag.
type RegisterTagRequest struct {
	Name string `json:"name" example:"Acme Corp" validate:"required"`
}

// Validate checks the request.
func (r RegisterTagRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 256)),
	)
}

// RegisterTagResponse reports the stored tag.
type RegisterTagResponse struct {
	Tag     models.Tag `json:"tag" validate:"required"`
	Created bool       `json:"created"`
}

// IngestRequest is the JSON form of an ingestion batch.
type IngestRequest struct {
	Rows []models.IngestRow `json:"rows" validate:"required"`
}

// Validate checks the batch is not empty. Rows are validated one by one
// by the catalog so that a bad row does not reject the batch.
func (r IngestRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Rows, validation.Required),
	)
}

// ItemFailure describes one failed batch item.
type ItemFailure struct {
	Name  string `json:"name"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}

func failures(errs []error) []ItemFailure {
	out := make([]ItemFailure, 0, len(errs))
	for _, ie := range catalog.ItemErrors(errs) {
		out = append(out, ItemFailure{Name: ie.Name, Key: ie.Key, Error: ie.Err.Error()})
	}
	return out
}

// IngestResponse reports a batch ingestion.
type IngestResponse struct {
	RunID      string               `json:"run_id"`
	Components []*models.Component  `json:"components"`
	Items      []catalog.IngestItem `json:"items"`
	Failures   []ItemFailure        `json:"failures"`
}

// UploadResponse reports a single uploaded component.
type UploadResponse struct {
	Component *models.Component   `json:"component"`
	Link      *linker.LinkSummary `json:"link,omitempty"`
}
