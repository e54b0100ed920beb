package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// node is an element of the parsed expression tree.
type node interface{}

type literal struct{ value any }

type varRef struct{ key string }

// template is a quoted literal holding {{key}} references. Values are looked
// up at evaluation time and joined as text.
type template struct{ parts []node }

type notExpr struct{ operand node }

type logicalExpr struct {
	op          tokenKind // tokAnd or tokOr
	left, right node
}

type compareExpr struct {
	op          tokenKind
	left, right node
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at %d", tok.kind, tok.pos)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return fmt.Errorf("expression nested deeper than %d", MaxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind != tokNot {
		return p.parseComparison()
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	p.next()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return notExpr{operand: operand}, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokEq, tokNeq, tokGt, tokLt, tokGte, tokLte:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", tok.text, tok.pos)
		}
		return literal{value: f}, nil
	case tokString:
		return stringOperand(tok.text), nil
	case tokTrue:
		return literal{value: true}, nil
	case tokFalse:
		return literal{value: false}, nil
	case tokNull:
		return literal{value: nil}, nil
	case tokVar, tokIdent:
		return varRef{key: tok.text}, nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at %d, got %s", closing.pos, closing.kind)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %s at %d", tok.kind, tok.pos)
}

// stringOperand splits a quoted literal on {{key}} references. Text without a
// complete reference stays a plain literal.
func stringOperand(text string) node {
	var parts []node
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			break
		}
		key := strings.TrimSpace(rest[start+2 : start+2+end])
		if start > 0 {
			parts = append(parts, literal{value: rest[:start]})
		}
		if key != "" {
			parts = append(parts, varRef{key: key})
		}
		rest = rest[start+2+end+2:]
	}
	if parts == nil {
		return literal{value: text}
	}
	if rest != "" {
		parts = append(parts, literal{value: rest})
	}
	return template{parts: parts}
}
