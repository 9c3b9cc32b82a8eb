package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/marcom/internal/models"
)

func TestReadIngestRows(t *testing.T) {
	in := "\uFEFFSource,Component Name,Domain,About,Context\n" +
		"https://drive.google.com/open?id=abc, Hero copy ,marketing,product,web\n" +
		",,,,\n" +
		"copy/b.txt,\"Tagline, short\",sales,,\n"

	rows, err := ReadIngestRows(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []models.IngestRow{
		{Name: "Hero copy", Domain: "marketing", About: "product", Context: "web", Source: "https://drive.google.com/open?id=abc"},
		{Name: "Tagline, short", Domain: "sales", Source: "copy/b.txt"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestReadIngestRowsMissingColumn(t *testing.T) {
	_, err := ReadIngestRows(strings.NewReader("Component Name,Domain\nA,b\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("err = %v, want ErrMissingColumn", err)
	}
	if _, err := ReadIngestRows(strings.NewReader("")); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("empty: err = %v", err)
	}
}

func TestReadTagSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.csv")
	if err := os.WriteFile(path, []byte("tag\nAcme\n\nCloud Widget\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	seeds, err := ReadTagSeedFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds) != 2 || seeds[0].Tag != "Acme" || seeds[1].Tag != "Cloud Widget" {
		t.Errorf("seeds = %+v", seeds)
	}
}
