package selfquery

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseFilter parses the constructor model's filter notation, e.g.
//
//	and(eq('level', 'error'), or(eq('ns', 'prod'), eq('ns', 'test')), gte('time', 'now-1h'))
//
// into an Expr tree. The literal NO_FILTER (bare or quoted) parses to
// nil, meaning match-all. Comparison values equal to NO_FILTER are
// kept as leaves; the translator drops them.
func ParseFilter(s string) (Expr, error) {
	p := &filterParser{input: s}
	p.skipSpace()
	if p.eof() {
		return nil, nil
	}
	if p.peekLiteral(NoFilter) {
		return nil, nil
	}

	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, fmt.Errorf("trailing input at offset %d: %q", p.pos, p.input[p.pos:])
	}
	return expr, nil
}

type filterParser struct {
	input string
	pos   int
}

func (p *filterParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *filterParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

// peekLiteral reports whether the remaining input is exactly lit,
// optionally wrapped in quotes.
func (p *filterParser) peekLiteral(lit string) bool {
	rest := strings.TrimSpace(p.input[p.pos:])
	rest = strings.Trim(rest, `'"`)
	return rest == lit
}

func (p *filterParser) parseExpr() (Expr, error) {
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(name) {
	case "and", "or", "not":
		args, err := p.parseArgs()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		switch strings.ToLower(name) {
		case "and":
			return And(args), nil
		case "or":
			if len(args) == 0 {
				return nil, fmt.Errorf("or() requires at least one argument")
			}
			return Or(args), nil
		default:
			return Not(args), nil
		}
	case "eq", "lt", "lte", "gt", "gte":
		attr, value, err := p.parseComparisonArgs()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return Comparison{Attribute: attr, Op: Comparator(strings.ToLower(name)), Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown function %q at offset %d", name, p.pos)
	}
}

func (p *filterParser) parseIdent() (string, error) {
	p.skipSpace()
	start := p.pos
	for !p.eof() {
		c := rune(p.input[p.pos])
		if unicode.IsLetter(c) || c == '_' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at offset %d", p.pos)
	}
	return p.input[start:p.pos], nil
}

// parseArgs parses a parenthesized, comma-separated list of
// sub-expressions.
func (p *filterParser) parseArgs() ([]Expr, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}

	var args []Expr
	p.skipSpace()
	if !p.eof() && p.input[p.pos] == ')' {
		p.pos++
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		p.skipSpace()
		if p.eof() {
			return nil, fmt.Errorf("unterminated argument list")
		}
		switch p.input[p.pos] {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return args, nil
		default:
			return nil, fmt.Errorf("expected ',' or ')' at offset %d, got %q", p.pos, p.input[p.pos])
		}
	}
}

// parseComparisonArgs parses ('attribute', 'value').
func (p *filterParser) parseComparisonArgs() (string, string, error) {
	if err := p.expect('('); err != nil {
		return "", "", err
	}
	attr, err := p.parseString()
	if err != nil {
		return "", "", err
	}
	if err := p.expect(','); err != nil {
		return "", "", err
	}
	value, err := p.parseString()
	if err != nil {
		return "", "", err
	}
	if err := p.expect(')'); err != nil {
		return "", "", err
	}
	return attr, value, nil
}

// parseString parses a quoted string ('...' or "..."), or a bare token
// up to the next comma or closing parenthesis. Models occasionally
// drop the quotes around relative-time values, so bare tokens are
// accepted.
func (p *filterParser) parseString() (string, error) {
	p.skipSpace()
	if p.eof() {
		return "", fmt.Errorf("expected string at offset %d", p.pos)
	}

	quote := p.input[p.pos]
	if quote == '\'' || quote == '"' {
		p.pos++
		start := p.pos
		for !p.eof() && p.input[p.pos] != quote {
			p.pos++
		}
		if p.eof() {
			return "", fmt.Errorf("unterminated string starting at offset %d", start-1)
		}
		s := p.input[start:p.pos]
		p.pos++
		return s, nil
	}

	start := p.pos
	for !p.eof() && p.input[p.pos] != ',' && p.input[p.pos] != ')' {
		p.pos++
	}
	s := strings.TrimSpace(p.input[start:p.pos])
	if s == "" {
		return "", fmt.Errorf("expected string at offset %d", start)
	}
	return s, nil
}

func (p *filterParser) expect(c byte) error {
	p.skipSpace()
	if p.eof() || p.input[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}
