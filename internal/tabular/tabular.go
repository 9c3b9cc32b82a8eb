// Package tabular reads the CSV tables that drive batch ingestion and tag
// seeding. Columns are matched by header name, ignoring case and order.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/starford/marcom/internal/models"
)

// Column headers.
const (
	ColName    = "Component Name"
	ColDomain  = "Domain"
	ColAbout   = "About"
	ColContext = "Context"
	ColSource  = "Source"
	ColComment = "Comment"
	ColTag     = "Tag"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("tabular: missing column")

type table struct {
	index map[string]int
	rows  [][]string
}

func read(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("tabular: read header: %w", err)
	}
	t := &table{index: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\uFEFF")
		t.index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := t.index[strings.ToLower(col)]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: read row: %w", err)
		}
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func (t *table) get(row []string, col string) string {
	i, ok := t.index[strings.ToLower(col)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadIngestRows parses a component ingestion table. Rows are returned
// unvalidated so the caller can report each failure individually.
func ReadIngestRows(r io.Reader) ([]models.IngestRow, error) {
	t, err := read(r, ColName, ColSource)
	if err != nil {
		return nil, err
	}
	out := make([]models.IngestRow, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, models.IngestRow{
			Name:    t.get(row, ColName),
			Domain:  t.get(row, ColDomain),
			About:   t.get(row, ColAbout),
			Context: t.get(row, ColContext),
			Source:  t.get(row, ColSource),
			Comment: t.get(row, ColComment),
		})
	}
	return out, nil
}

// ReadTagSeeds parses a tag seed table.
func ReadTagSeeds(r io.Reader) ([]models.TagSeed, error) {
	t, err := read(r, ColTag)
	if err != nil {
		return nil, err
	}
	out := make([]models.TagSeed, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, models.TagSeed{Tag: t.get(row, ColTag)})
	}
	return out, nil
}

// ReadIngestFile opens path and parses it with ReadIngestRows.
func ReadIngestFile(path string) ([]models.IngestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: %w", err)
	}
	defer f.Close()
	return ReadIngestRows(f)
}

// ReadTagSeedFile opens path and parses it with ReadTagSeeds.
func ReadTagSeedFile(path string) ([]models.TagSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: %w", err)
	}
	defer f.Close()
	return ReadTagSeeds(f)
}
