// Package frontmatter reads descriptive fields from the YAML block at the
// top of an uploaded Markdown component.
package frontmatter

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/marcom/internal/models"
)

// Meta holds the recognised front matter keys. "title" is accepted as an
// alias of "name".
type Meta struct {
	Name    string `yaml:"name"`
	Title   string `yaml:"title"`
	Domain  string `yaml:"domain"`
	About   string `yaml:"about"`
	Context string `yaml:"context"`
	Comment string `yaml:"comment"`
}

// IsMarkdown reports whether a file name looks like Markdown.
func IsMarkdown(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}

// Parse returns the front matter of data. ok is false when there is no
// block between leading --- lines or the block is not valid YAML.
func Parse(data []byte) (Meta, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return Meta{}, false
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return Meta{}, false
	}

	var m Meta
	if err := yaml.Unmarshal(rest[:idx], &m); err != nil {
		return Meta{}, false
	}
	return m, true
}

// Fill copies front matter values into the empty fields of d. Values the
// caller already set win.
func (m Meta) Fill(d *models.Descriptive) {
	name := m.Name
	if name == "" {
		name = m.Title
	}
	set := func(dst *string, v string) {
		if *dst == "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&d.Name, name)
	set(&d.Domain, m.Domain)
	set(&d.About, m.About)
	set(&d.Context, m.Context)
	set(&d.Comment, m.Comment)
}
