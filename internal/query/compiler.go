// Package query compiles property filters and tag criteria into
// parameterized graph statements and executes them.
//
// No user-supplied value is ever spliced into statement text: property
// values and tag literals are bound parameters, and the only text derived
// from input is the operator structure of an already validated criteria
// expression.
package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/graph"
)

// Bucket is a named upper bound on component size in bytes.
type Bucket string

const (
	BucketNone        Bucket = ""
	BucketBullet      Bucket = "bullet"
	BucketSummary     Bucket = "summary"
	BucketDescription Bucket = "description"
	BucketOverview    Bucket = "overview"
)

var bucketMax = map[Bucket]int{
	BucketBullet:      50,
	BucketSummary:     500,
	BucketDescription: 1000,
	BucketOverview:    3000,
}

// Buckets lists the bucket names in ascending order of size.
func Buckets() []Bucket {
	return []Bucket{BucketBullet, BucketSummary, BucketDescription, BucketOverview}
}

// Max returns the inclusive size bound of b.
func (b Bucket) Max() (int, bool) {
	n, ok := bucketMax[b]
	return n, ok
}

// ParseBucket resolves a bucket name, ignoring case.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	if b == BucketNone {
		return BucketNone, nil
	}
	if _, ok := bucketMax[b]; !ok {
		return BucketNone, apperr.Filter("unknown size bucket %q", s)
	}
	return b, nil
}

// Property fields that can be filtered and listed.
const (
	FieldDomain  = "domain"
	FieldAbout   = "about"
	FieldContext = "context"
	FieldSize    = "size"
)

// Fields lists the filterable descriptive properties.
func Fields() []string { return []string{FieldDomain, FieldAbout, FieldContext} }

// Constraints are property filters: values within a field are OR'd, fields
// are AND'd, and an empty field is unconstrained.
type Constraints struct {
	Domain  []string `json:"domain,omitempty"`
	About   []string `json:"about,omitempty"`
	Context []string `json:"context,omitempty"`
	Size    Bucket   `json:"size,omitempty"`
}

// ParseConstraints builds Constraints from form-style values such as
// url.Values. Unknown keys are rejected.
func ParseConstraints(values map[string][]string) (Constraints, error) {
	var c Constraints
	for k, vs := range values {
		switch strings.ToLower(k) {
		case FieldDomain:
			c.Domain = append(c.Domain, vs...)
		case FieldAbout:
			c.About = append(c.About, vs...)
		case FieldContext:
			c.Context = append(c.Context, vs...)
		case FieldSize:
			if len(vs) == 0 {
				continue
			}
			if len(vs) > 1 {
				return Constraints{}, apperr.Filter("only one size bucket may be given")
			}
			b, err := ParseBucket(vs[0])
			if err != nil {
				return Constraints{}, err
			}
			c.Size = b
		default:
			return Constraints{}, apperr.Filter("unknown property %q", k)
		}
	}
	return c, nil
}

// Compiled is a ready-to-run statement.
type Compiled struct {
	Dialect     graph.Dialect
	Text        string
	Params      graph.Params
	HasCriteria bool
}

// Compiler renders queries for one dialect.
type Compiler struct {
	dialect graph.Dialect
}

// NewCompiler creates a Compiler for d.
func NewCompiler(d graph.Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Compile validates criteria and builds the statement selecting components
// that satisfy c and criteria. With criteria there is one row per component
// and matched tag.
func (q *Compiler) Compile(c Constraints, criteria string) (*Compiled, error) {
	expr, lits, err := ParseCriteria(criteria)
	if err != nil {
		return nil, err
	}
	maxSize := 0
	if c.Size != BucketNone {
		n, ok := c.Size.Max()
		if !ok {
			return nil, apperr.Filter("unknown size bucket %q", c.Size)
		}
		maxSize = n
	}

	params := graph.Params{}
	for _, l := range lits {
		params[l.Param] = l.Value
	}
	filters := map[string][]string{
		FieldDomain:  clean(c.Domain),
		FieldAbout:   clean(c.About),
		FieldContext: clean(c.Context),
	}

	var text string
	switch q.dialect {
	case graph.DialectSQLite:
		text = q.sqlite(filters, maxSize, expr, lits, params)
	case graph.DialectCypher:
		text = q.cypher(filters, maxSize, expr, lits, params)
	default:
		return nil, fmt.Errorf("query: unsupported dialect %q", q.dialect)
	}
	return &Compiled{Dialect: q.dialect, Text: text, Params: params, HasCriteria: expr != nil}, nil
}

func clean(vs []string) []string {
	var out []string
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// resultColumns is valid projection text in both dialects.
const resultColumns = `c.key AS key, c.name AS name, c.domain AS domain, c.about AS about, c.context AS context, c.size AS size, c.content AS content`

func (q *Compiler) sqlite(filters map[string][]string, maxSize int, expr Expr, lits []*Literal, params graph.Params) string {
	var where []string
	for _, field := range Fields() {
		vals := filters[field]
		if len(vals) == 0 {
			continue
		}
		names := make([]string, len(vals))
		for i, v := range vals {
			p := field + strconv.Itoa(i)
			params[p] = v
			names[i] = "$" + p
		}
		where = append(where, "c."+field+" IN ("+strings.Join(names, ", ")+")")
	}
	if maxSize > 0 {
		params["size_max"] = maxSize
		where = append(where, "c.size <= $size_max")
	}

	var b strings.Builder
	if expr == nil {
		b.WriteString("SELECT " + resultColumns + ", '' AS tag\nFROM components c")
		writeWhere(&b, where)
		b.WriteString("\nORDER BY c.name, c.key")
		return b.String()
	}

	where = append(where, expr.render(func(l *Literal) string {
		return "EXISTS (SELECT 1 FROM edges xe JOIN tags xt ON xt.id = xe.tag_id" +
			" WHERE xe.component_key = c.key AND xe.type = 'HAS_TAG' AND instr(xt.name_lower, $" + l.Param + ") > 0)"
	}, "AND", "OR"))
	where = append(where, anyLiteral(lits, func(l *Literal) string {
		return "instr(t.name_lower, $" + l.Param + ") > 0"
	}))

	b.WriteString("SELECT " + resultColumns + ", t.name AS tag\nFROM components c" +
		"\nJOIN edges e ON e.component_key = c.key AND e.type = 'HAS_TAG'" +
		"\nJOIN tags t ON t.id = e.tag_id")
	writeWhere(&b, where)
	b.WriteString("\nORDER BY c.name, c.key, t.name_lower")
	return b.String()
}

func (q *Compiler) cypher(filters map[string][]string, maxSize int, expr Expr, lits []*Literal, params graph.Params) string {
	var where []string
	for _, field := range Fields() {
		vals := filters[field]
		if len(vals) == 0 {
			continue
		}
		params[field] = vals
		where = append(where, "c."+field+" IN $"+field)
	}
	if maxSize > 0 {
		params["size_max"] = maxSize
		where = append(where, "c.size <= $size_max")
	}

	var b strings.Builder
	b.WriteString("MATCH (c:Component)")
	if expr == nil {
		writeWhere(&b, where)
		b.WriteString("\nRETURN " + resultColumns + ", '' AS tag\nORDER BY name, key")
		return b.String()
	}

	where = append(where, expr.render(func(l *Literal) string {
		return "EXISTS { MATCH (c)-[:HAS_TAG]->(x:Tag) WHERE x.name_lower CONTAINS $" + l.Param + " }"
	}, "AND", "OR"))
	writeWhere(&b, where)
	b.WriteString("\nMATCH (c)-[:HAS_TAG]->(t:Tag)\nWHERE " + anyLiteral(lits, func(l *Literal) string {
		return "t.name_lower CONTAINS $" + l.Param
	}))
	b.WriteString("\nRETURN " + resultColumns + ", t.name AS tag\nORDER BY name, key, tag")
	return b.String()
}

func writeWhere(b *strings.Builder, where []string) {
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, "\n  AND "))
	}
}

func anyLiteral(lits []*Literal, cond func(*Literal) string) string {
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = cond(l)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
