package tagging

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

// ProseRecognizer analyzes English text with the prose NLP models.
type ProseRecognizer struct{}

// NewProseRecognizer returns a Recognizer backed by prose.
func NewProseRecognizer() *ProseRecognizer { return &ProseRecognizer{} }

// Analyze implements Recognizer.
func (ProseRecognizer) Analyze(text string) (Analysis, error) {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return Analysis{}, err
	}

	var a Analysis
	for _, ent := range doc.Entities() {
		a.Entities = append(a.Entities, Entity{Text: ent.Text, Label: ent.Label})
	}
	toks := doc.Tokens()
	tagged := make([]posToken, len(toks))
	for i, tok := range toks {
		tagged[i] = posToken{Text: tok.Text, Tag: tok.Tag}
	}
	a.Phrases = chunkNounPhrases(tagged)
	return a, nil
}

type posToken struct {
	Text string
	Tag  string // Penn Treebank part-of-speech tag
}

func isNoun(tag string) bool { return strings.HasPrefix(tag, "NN") }

func isDeterminer(tag string) bool { return tag == "DT" || tag == "PRP$" }

func inChunk(tag string) bool {
	return isNoun(tag) || isDeterminer(tag) || strings.HasPrefix(tag, "JJ") || tag == "CD"
}

// chunkNounPhrases groups maximal runs of determiners, adjectives, numbers
// and nouns that end in a noun. A determiner following a noun starts a new
// phrase.
func chunkNounPhrases(toks []posToken) []string {
	var (
		out []string
		cur []posToken
	)
	flush := func() {
		end := len(cur)
		for end > 0 && !isNoun(cur[end-1].Tag) {
			end--
		}
		if end > 0 {
			words := make([]string, end)
			for i := range cur[:end] {
				words[i] = cur[i].Text
			}
			out = append(out, strings.Join(words, " "))
		}
		cur = cur[:0]
	}
	for _, tok := range toks {
		if !inChunk(tok.Tag) {
			flush()
			continue
		}
		if isDeterminer(tok.Tag) && len(cur) > 0 && isNoun(cur[len(cur)-1].Tag) {
			flush()
		}
		cur = append(cur, tok)
	}
	flush()
	return out
}
