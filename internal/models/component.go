// Package models defines the domain types for the component catalog.
package models

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Edge types linking components and tags.
const (
	EdgeHasTag = "HAS_TAG" // component -> tag
	EdgeTagOf  = "TAG_OF"  // tag -> component
)

// Descriptive holds the mutable, human-curated attributes of a component.
type Descriptive struct {
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	About   string `json:"about"`
	Context string `json:"context"`
	Comment string `json:"comment"`
}

// Component is a content fragment identified by the digest of its content.
type Component struct {
	Key string `json:"key"`
	Descriptive
	SourceRef string    `json:"source_ref"`
	Content   []byte    `json:"-"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag is a canonical label in the registry.
type Tag struct {
	Name string `json:"name"`
}

// NormalizeTag returns the comparison form of a tag name: lowercase with
// runs of whitespace collapsed to single spaces.
func NormalizeTag(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IngestRow is one row of the component ingestion table.
type IngestRow struct {
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	About   string `json:"about"`
	Context string `json:"context"`
	Source  string `json:"source"`
	Comment string `json:"comment,omitempty"`
}

// Validate checks the row at the ingestion boundary.
func (r IngestRow) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 512)),
		validation.Field(&r.Source, validation.Required),
	)
}

// Fields returns the descriptive attributes carried by the row.
func (r IngestRow) Fields() Descriptive {
	return Descriptive{
		Name:    r.Name,
		Domain:  r.Domain,
		About:   r.About,
		Context: r.Context,
		Comment: r.Comment,
	}
}

// TagSeed is one row of the tag seed table.
type TagSeed struct {
	Tag string `json:"tag"`
}

// Validate checks the seed row.
func (s TagSeed) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Tag, validation.Required, validation.Length(1, 256)),
	)
}
