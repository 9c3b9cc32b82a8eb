// Package prompt is the interactive filter builder behind "marcom query".
// It walks the user through property filters, then accepts tag criteria
// and prints matching components until the user exits.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/query"
)

// Commands.
const (
	cmdSkip  = "/s"
	cmdExit  = "/x"
	cmdQuery = "/q/"
)

// errExit unwinds the session when the user types /x or input ends.
var errExit = errors.New("prompt: exit")

// Catalog is the part of catalog.Service the session needs.
type Catalog interface {
	PropertyValues(ctx context.Context, field string) ([]string, error)
	Search(ctx context.Context, c query.Constraints, criteria string, unique bool) ([]query.Result, error)
}

// Session is one interactive run.
type Session struct {
	cat    Catalog
	in     *bufio.Scanner
	out    io.Writer
	unique bool
}

// New creates a session reading commands from in and writing to out. With
// unique set, each component is printed once.
func New(cat Catalog, in io.Reader, out io.Writer, unique bool) *Session {
	return &Session{cat: cat, in: bufio.NewScanner(in), out: out, unique: unique}
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Session) readLine(prompt string) (string, error) {
	s.printf("%s", prompt)
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", errExit
	}
	return strings.TrimSpace(s.in.Text()), nil
}

// Run drives the session until the user exits or input ends.
func (s *Session) Run(ctx context.Context) error {
	s.printf("Marcom component query\n\n")
	c, err := s.Constraints(ctx)
	if errors.Is(err, errExit) {
		s.printf("Exiting.\n")
		return nil
	}
	if err != nil {
		return err
	}

	s.printf("Now set constraints for tags.\n")
	for {
		line, err := s.readLine("Enter tag criteria (/q/'criteria'), /s to skip the tag filter, /x to exit: ")
		if errors.Is(err, errExit) {
			s.printf("Exiting.\n")
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case strings.EqualFold(line, cmdExit):
			s.printf("Exiting.\n")
			return nil
		case strings.EqualFold(line, cmdSkip):
			return s.search(ctx, c, "")
		case strings.HasPrefix(line, cmdQuery):
			err := s.search(ctx, c, strings.TrimSpace(line[len(cmdQuery):]))
			if errors.Is(err, apperr.ErrInvalidCriteria) {
				s.printf("Invalid criteria: %v\n", err)
				continue
			}
			if err != nil {
				return err
			}
		default:
			s.printf("Invalid input. Enter /x to exit, /s to skip the tag filter, or /q/ followed by criteria.\n")
		}
	}
}

func (s *Session) search(ctx context.Context, c query.Constraints, criteria string) error {
	results, err := s.cat.Search(ctx, c, criteria, s.unique)
	if err != nil {
		return err
	}
	PrintSummary(s.out, c, criteria)
	PrintResults(s.out, results)
	return nil
}

// Constraints asks for the property filters one field at a time.
func (s *Session) Constraints(ctx context.Context) (query.Constraints, error) {
	var c query.Constraints
	for _, field := range query.Fields() {
		values, err := s.cat.PropertyValues(ctx, field)
		if err != nil {
			return query.Constraints{}, err
		}
		picked, err := s.choose(field, values)
		if err != nil {
			return query.Constraints{}, err
		}
		switch field {
		case query.FieldDomain:
			c.Domain = picked
		case query.FieldAbout:
			c.About = picked
		case query.FieldContext:
			c.Context = picked
		}
	}

	buckets := query.Buckets()
	labels := make([]string, len(buckets))
	for i, b := range buckets {
		limit, _ := b.Max()
		labels[i] = fmt.Sprintf("%s (up to %d bytes)", b, limit)
	}
	picked, err := s.pick(query.FieldSize, labels, false)
	if err != nil {
		return query.Constraints{}, err
	}
	if len(picked) == 1 {
		c.Size = buckets[picked[0]]
	}
	return c, nil
}

func (s *Session) choose(field string, values []string) ([]string, error) {
	if len(values) == 0 {
		s.printf("Property '%s': no values stored, skipping.\n", field)
		return nil, nil
	}
	idx, err := s.pick(field, values, true)
	if err != nil || idx == nil {
		return nil, err
	}
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = values[n]
	}
	return out, nil
}

// pick lists options and reads a selection such as /2 or, when multi is
// set, /1,3. It returns zero-based indexes; nil means skipped.
func (s *Session) pick(field string, options []string, multi bool) ([]int, error) {
	s.printf("Property '%s':\n", field)
	for i, o := range options {
		s.printf("[%d] - %s\n", i+1, o)
	}
	hint := "/n to select"
	if multi {
		hint = "/n or /n,m to select"
	}
	for {
		line, err := s.readLine("Enter your choice (" + hint + ", /s to skip, /x to exit): ")
		if err != nil {
			return nil, err
		}
		switch {
		case strings.EqualFold(line, cmdExit):
			return nil, errExit
		case strings.EqualFold(line, cmdSkip):
			return nil, nil
		}
		if idx, ok := parseSelection(line, len(options), multi); ok {
			return idx, nil
		}
		s.printf("Invalid input. Please enter a valid choice.\n")
	}
}

func parseSelection(line string, n int, multi bool) ([]int, bool) {
	rest, ok := strings.CutPrefix(line, "/")
	if !ok || rest == "" {
		return nil, false
	}
	parts := strings.Split(rest, ",")
	if len(parts) > 1 && !multi {
		return nil, false
	}
	seen := make(map[int]bool, len(parts))
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		k, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || k < 1 || k > n {
			return nil, false
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k-1)
		}
	}
	return out, true
}

// PrintSummary writes the filters in effect.
func PrintSummary(w io.Writer, c query.Constraints, criteria string) {
	fmt.Fprintf(w, "\n%s Filters Applied %s\n", strings.Repeat("/", 30), strings.Repeat("/", 33))
	line := func(name string, values []string) {
		if len(values) == 0 {
			fmt.Fprintf(w, "%s: No filter applied\n", name)
			return
		}
		fmt.Fprintf(w, "%s: %s\n", name, strings.Join(values, " or "))
	}
	line(query.FieldDomain, c.Domain)
	line(query.FieldAbout, c.About)
	line(query.FieldContext, c.Context)
	if c.Size == query.BucketNone {
		line(query.FieldSize, nil)
	} else {
		line(query.FieldSize, []string{string(c.Size)})
	}
	if criteria == "" {
		line("tags", nil)
	} else {
		line("tags", []string{criteria})
	}
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("/", 80))
}

// PrintResults writes each result with its content.
func PrintResults(w io.Writer, results []query.Result) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No components found.\n\n")
		return
	}
	fmt.Fprintf(w, "Results (%d):\n", len(results))
	for _, r := range results {
		fmt.Fprintf(w, "Component Name: %s\n", r.Name)
		fmt.Fprintf(w, "Key: %s\n", r.Key)
		fmt.Fprintf(w, "Domain: %s\n", r.Domain)
		fmt.Fprintf(w, "About: %s\n", r.About)
		fmt.Fprintf(w, "Context: %s\n", r.Context)
		fmt.Fprintf(w, "Size: %d\n", r.Size)
		tag := r.Tag
		if tag == "" {
			tag = "N/A"
		}
		fmt.Fprintf(w, "Tag: %s\n\n", tag)
		fmt.Fprintf(w, "%s <%s> content %s\n", strings.Repeat("#", 30), r.Name, strings.Repeat("#", 30))
		fmt.Fprintf(w, "%s\n", r.Content)
		fmt.Fprintf(w, "%s <%s> end of record %s\n\n", strings.Repeat("=", 30), r.Name, strings.Repeat("=", 30))
	}
}
