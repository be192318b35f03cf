package expression

import (
	"fmt"
	"strings"
)

type parser struct {
	tokens []token
	pos    int
}

// Parse compiles text into an Expression. It fails on the first malformed token.
func Parse(text string) (Expression, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newSyntaxError(1, "expression is empty")
	}

	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if t := p.peek(); t.kind != tokenEOF {
		return nil, newSyntaxError(t.column, fmt.Sprintf("unexpected %s after expression", describe(t)))
	}
	return expr, nil
}

// MustParse is Parse for expressions known to be valid, such as test fixtures.
func MustParse(text string) Expression {
	expr, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return expr
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, newSyntaxError(t.column, fmt.Sprintf("expected %s, found %s", kind, describe(t)))
	}
	return t, nil
}

func (p *parser) parseExpr() (Expression, error) {
	t := p.peek()

	switch {
	case t.kind == tokenAnd:
		p.next()
		ops, err := p.parseOperands()
		if err != nil {
			return nil, err
		}
		return &andExpr{operands: ops}, nil
	case t.kind == tokenOr:
		p.next()
		ops, err := p.parseOperands()
		if err != nil {
			return nil, err
		}
		return &orExpr{operands: ops}, nil
	case isKeyword(t, "not"):
		p.next()
		if _, err := p.expect(tokenOpen); err != nil {
			return nil, err
		}
		op, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenClose); err != nil {
			return nil, err
		}
		return &notExpr{operand: op}, nil
	case isKeyword(t, "equals"):
		p.next()
		attr, value, err := p.parsePredicateArgs()
		if err != nil {
			return nil, err
		}
		return &equalsExpr{attr: attr, value: value}, nil
	case isKeyword(t, "startswith"):
		p.next()
		attr, value, err := p.parsePredicateArgs()
		if err != nil {
			return nil, err
		}
		return &startsWithExpr{attr: attr, prefix: value}, nil
	default:
		return nil, newSyntaxError(t.column, fmt.Sprintf("expected operator or predicate, found %s", describe(t)))
	}
}

// parseOperands reads "(expr, expr, ...)" with at least two operands.
func (p *parser) parseOperands() ([]Expression, error) {
	open, err := p.expect(tokenOpen)
	if err != nil {
		return nil, err
	}

	var ops []Expression
	for {
		op, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)

		t := p.next()
		if t.kind == tokenClose {
			break
		}
		if t.kind != tokenComma {
			return nil, newSyntaxError(t.column, fmt.Sprintf("expected ',' or ')', found %s", describe(t)))
		}
	}

	if len(ops) < 2 {
		return nil, newSyntaxError(open.column, "operator needs at least two operands")
	}
	return ops, nil
}

func (p *parser) parsePredicateArgs() (Attribute, string, error) {
	if _, err := p.expect(tokenOpen); err != nil {
		return "", "", err
	}

	name, err := p.expect(tokenIdent)
	if err != nil {
		return "", "", err
	}
	attr, ok := LookupAttribute(name.text)
	if !ok {
		return "", "", newSyntaxError(name.column, fmt.Sprintf("unknown attribute %q", name.text))
	}

	if _, err := p.expect(tokenComma); err != nil {
		return "", "", err
	}

	value, err := p.expect(tokenValue)
	if err != nil {
		return "", "", err
	}

	if _, err := p.expect(tokenClose); err != nil {
		return "", "", err
	}
	return attr, value.text, nil
}

func describe(t token) string {
	switch t.kind {
	case tokenEOF:
		return t.kind.String()
	case tokenValue:
		return fmt.Sprintf("'%s'", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}
