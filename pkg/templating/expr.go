package templating

import (
	"errors"
	"fmt"
	"strings"
)

// maxExprDepth bounds parenthesised nesting inside one expression.
const maxExprDepth = 64

var errTooDeep = errors.New("expression nested too deeply")

type expr interface {
	exprNode()
}

type literalExpr struct {
	value any
}

type pathExpr struct {
	raw  string
	segs []string
}

type callExpr struct {
	name string
	args []expr
}

// pipeExpr feeds each stage's value into the next stage as its last argument.
type pipeExpr struct {
	stages []expr
}

func (*literalExpr) exprNode() {}
func (*pathExpr) exprNode()    {}
func (*callExpr) exprNode()    {}
func (*pipeExpr) exprNode()    {}

var keywordLiterals = map[string]any{"true": true, "false": false, "nil": nil}

type exprParser struct {
	toks  []token
	pos   int
	depth int
}

// parseExpr parses the inside of a {{ }} tag.
func parseExpr(src string) (expr, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, errors.New("empty expression")
	}
	p := &exprParser{toks: toks}
	e, err := p.pipeline()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("at %d: unexpected token %q", t.pos, t.text)
	}
	return e, nil
}

func (p *exprParser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *exprParser) enter() error {
	p.depth++
	if p.depth > maxExprDepth {
		return errTooDeep
	}
	return nil
}

func (p *exprParser) leave() { p.depth-- }

func (p *exprParser) pipeline() (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	first, err := p.command()
	if err != nil {
		return nil, err
	}
	stages := []expr{first}
	for p.peek().kind == tokPipe {
		p.next()
		stage, err := p.command()
		if err != nil {
			return nil, err
		}
		switch s := stage.(type) {
		case *callExpr:
		case *pathExpr:
			if len(s.segs) != 1 {
				return nil, fmt.Errorf("cannot pipe into %q", s.raw)
			}
			stage = &callExpr{name: s.raw}
		default:
			return nil, errors.New("pipe target must be a function")
		}
		stages = append(stages, stage)
	}
	if len(stages) == 1 {
		return first, nil
	}
	return &pipeExpr{stages: stages}, nil
}

func (p *exprParser) command() (expr, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return p.atom()
	}
	if v, ok := keywordLiterals[t.text]; ok {
		p.next()
		return &literalExpr{value: v}, nil
	}
	p.next()
	if p.peek().kind == tokLParen {
		return p.parenCall(t)
	}
	var args []expr
	for p.atAtom() {
		a, err := p.atom()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	if len(args) == 0 {
		return newPath(t.text), nil
	}
	return &callExpr{name: t.text, args: args}, nil
}

func (p *exprParser) atAtom() bool {
	switch p.peek().kind {
	case tokIdent, tokString, tokNumber, tokLParen:
		return true
	}
	return false
}

func (p *exprParser) atom() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return &literalExpr{value: t.text}, nil
	case tokNumber:
		return &literalExpr{value: t.val}, nil
	case tokIdent:
		if v, ok := keywordLiterals[t.text]; ok {
			return &literalExpr{value: v}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parenCall(t)
		}
		return newPath(t.text), nil
	case tokLParen:
		e, err := p.pipeline()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("at %d: missing closing parenthesis", closing.pos)
		}
		return e, nil
	case tokEOF:
		return nil, errors.New("unexpected end of expression")
	default:
		return nil, fmt.Errorf("at %d: unexpected token", t.pos)
	}
}

// parenCall parses name(arg, arg, ...). Each argument is a full pipeline.
func (p *exprParser) parenCall(name token) (expr, error) {
	p.next() // (
	call := &callExpr{name: name.text}
	if p.peek().kind == tokRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.pipeline()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		switch t := p.next(); t.kind {
		case tokComma:
		case tokRParen:
			return call, nil
		default:
			return nil, fmt.Errorf("at %d: expected , or ) in call to %s", t.pos, name.text)
		}
	}
}

func newPath(raw string) *pathExpr {
	return &pathExpr{raw: raw, segs: strings.Split(strings.TrimPrefix(raw, "$"), ".")}
}
