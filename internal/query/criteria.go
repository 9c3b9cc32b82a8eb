package query

import (
	"strconv"
	"strings"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/models"
)

// Criteria grammar:
//
//	criteria := term (('&' | '|') term)*
//	term     := '(' criteria ')' | '\'' literal '\''
//	literal  := [A-Za-z0-9 \t\n\r\f\v]+
//
// Whitespace may appear anywhere; inside a literal it is collapsed to
// single spaces.
//
// '&' binds tighter than '|'.

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("()&|'", r) || (r < 0x80 && isSpace(byte(r)))
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// Expr is a parsed tag expression.
type Expr interface {
	render(lit func(l *Literal) string, and, or string) string
}

// Literal is one quoted tag token. Param is its bound parameter name.
type Literal struct {
	Value string // normalized
	Param string
}

func (l *Literal) render(lit func(*Literal) string, _, _ string) string { return lit(l) }

// Binary joins two expressions with '&' or '|'.
type Binary struct {
	Op          byte
	Left, Right Expr
}

func (b *Binary) render(lit func(*Literal) string, and, or string) string {
	op := or
	if b.Op == '&' {
		op = and
	}
	return "(" + b.Left.render(lit, and, or) + " " + op + " " + b.Right.render(lit, and, or) + ")"
}

// ParseCriteria validates and parses a tag expression. An empty or blank
// string yields a nil Expr, meaning no tag constraint.
func ParseCriteria(s string) (Expr, []*Literal, error) {
	for _, r := range s {
		if !allowedRune(r) {
			return nil, nil, apperr.Criteria("character %q is not allowed", r)
		}
	}
	toks, err := lex(s)
	if err != nil {
		return nil, nil, err
	}
	if len(toks) == 0 {
		return nil, nil, nil
	}
	p := &parser{toks: toks}
	expr, err := p.or()
	if err != nil {
		return nil, nil, err
	}
	if p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind == ')' {
			return nil, nil, apperr.Criteria("unbalanced parentheses")
		}
		return nil, nil, apperr.Criteria("unexpected %s", t)
	}
	return expr, p.lits, nil
}

type token struct {
	kind byte // '(' ')' '&' '|' or 'L' for a literal
	text string
}

func (t token) String() string {
	if t.kind == 'L' {
		return "'" + t.text + "'"
	}
	return "'" + string(t.kind) + "'"
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case isSpace(c):
		case c == '(' || c == ')' || c == '&' || c == '|':
			toks = append(toks, token{kind: c})
		case c == '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return nil, apperr.Criteria("unbalanced quotes")
			}
			text := s[i+1 : i+1+end]
			if strings.TrimSpace(text) == "" {
				return nil, apperr.Criteria("empty tag literal")
			}
			toks = append(toks, token{kind: 'L', text: text})
			i += end + 1
		default:
			return nil, apperr.Criteria("tag names must be quoted, as in 'cloud'")
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
	lits []*Literal
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != '|' {
			return left, nil
		}
		p.pos++
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: '|', Left: left, Right: right}
	}
}

func (p *parser) and() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != '&' {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: '&', Left: left, Right: right}
	}
}

func (p *parser) term() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, apperr.Criteria("expression ends with an operator")
	}
	switch t.kind {
	case 'L':
		p.pos++
		l := &Literal{Value: models.NormalizeTag(t.text), Param: literalParam(len(p.lits))}
		p.lits = append(p.lits, l)
		return l, nil
	case '(':
		p.pos++
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != ')' {
			return nil, apperr.Criteria("unbalanced parentheses")
		}
		p.pos++
		return inner, nil
	case ')':
		if p.pos == 0 {
			return nil, apperr.Criteria("unbalanced parentheses")
		}
		return nil, apperr.Criteria("empty group or operator before ')'")
	default:
		return nil, apperr.Criteria("unexpected operator %s", t)
	}
}

func literalParam(i int) string {
	return "t" + strconv.Itoa(i)
}
