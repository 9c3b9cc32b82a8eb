// Package tagging turns free text into candidate tag names.
//
// An Extractor runs a Recognizer over the text and yields named entities
// of the accepted labels followed by noun phrases. Every candidate carries
// its original surface form and the normalized form used for comparison.
package tagging

import (
	"iter"
	"strings"
	"unicode"

	"github.com/starford/marcom/internal/models"
)

// Kind distinguishes where a candidate came from.
type Kind string

const (
	KindEntity Kind = "entity"
	KindPhrase Kind = "phrase"
)

// Candidate is one proposed tag.
type Candidate struct {
	Original   string `json:"original"`   // as found, stop word included
	Normalized string `json:"normalized"` // stop word removed, lowercased
	Kind       Kind   `json:"kind"`
	Label      string `json:"label,omitempty"` // entity label, empty for phrases
}

// Entity is a recognized named entity.
type Entity struct {
	Text  string
	Label string
}

// Analysis is the raw output of a Recognizer.
type Analysis struct {
	Entities []Entity
	Phrases  []string
}

// Recognizer performs named-entity recognition and noun-phrase chunking.
type Recognizer interface {
	Analyze(text string) (Analysis, error)
}

// DefaultLabels are the entity labels kept as tag candidates.
var DefaultLabels = []string{"ORG", "GPE", "PERSON", "PRODUCT", "DATE", "MONEY"}

var stopWords = map[string]bool{"a": true, "an": true, "the": true, "my": true, "i": true}

// Extractor yields tag candidates from text.
type Extractor struct {
	rec    Recognizer
	labels map[string]bool
}

// NewExtractor creates an Extractor keeping entities with the given labels,
// or DefaultLabels when none are given.
func NewExtractor(rec Recognizer, labels ...string) *Extractor {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	keep := make(map[string]bool, len(labels))
	for _, l := range labels {
		keep[strings.ToUpper(l)] = true
	}
	return &Extractor{rec: rec, labels: keep}
}

// Extract returns a lazy sequence of candidates: accepted entities first,
// then noun phrases with one leading stop word removed. The text is
// analyzed when iteration starts, so every iteration is independent.
// Candidates are not deduplicated.
func (e *Extractor) Extract(text string) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		a, err := e.rec.Analyze(text)
		if err != nil {
			yield(Candidate{}, err)
			return
		}
		for _, ent := range a.Entities {
			if !e.labels[strings.ToUpper(ent.Label)] {
				continue
			}
			norm := models.NormalizeTag(ent.Text)
			if norm == "" {
				continue
			}
			c := Candidate{Original: strings.TrimSpace(ent.Text), Normalized: norm, Kind: KindEntity, Label: ent.Label}
			if !yield(c, nil) {
				return
			}
		}
		for _, p := range a.Phrases {
			norm := models.NormalizeTag(stripStopWord(p))
			if norm == "" {
				continue
			}
			if !yield(Candidate{Original: strings.TrimSpace(p), Normalized: norm, Kind: KindPhrase}, nil) {
				return
			}
		}
	}
}

// stripStopWord removes a single leading stop word and keeps the rest of
// the phrase as written.
func stripStopWord(phrase string) string {
	phrase = strings.TrimSpace(phrase)
	first, rest := phrase, ""
	if i := strings.IndexFunc(phrase, unicode.IsSpace); i >= 0 {
		first, rest = phrase[:i], phrase[i:]
	}
	if !stopWords[strings.ToLower(first)] {
		return phrase
	}
	return strings.TrimSpace(rest)
}

// Collect drains seq, stopping at the first error.
func Collect(seq iter.Seq2[Candidate, error]) ([]Candidate, error) {
	var out []Candidate
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Names returns the normalized names of cs in order.
func Names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Normalized
	}
	return out
}
