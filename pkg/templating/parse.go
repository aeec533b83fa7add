package templating

import (
	"fmt"
	"strings"
	"unicode"
)

// node is one element of a parsed template.
type node interface{}

type textNode struct {
	text string
}

// actionNode holds one expression. A parse failure is kept on the node and
// reported each time it is evaluated.
type actionNode struct {
	src  string
	expr expr
	err  error
}

type branch struct {
	cond *actionNode
	body []node
}

type ifNode struct {
	branches []*branch
	elseBody []node
}

type loopNode struct {
	keyVar   string
	valVar   string
	src      *actionNode
	body     []node
	elseBody []node
}

// tree is a parsed template. Structural problems found while parsing are
// kept as warnings and replayed on every render.
type tree struct {
	name     string
	root     []node
	warnings []string
}

// frame is an open if or loop block while parsing.
type frame struct {
	keyword string
	ifn     *ifNode
	loop    *loopNode
	inElse  bool
	parent  *[]node
}

func newAction(src string) *actionNode {
	e, err := parseExpr(src)
	return &actionNode{src: src, expr: e, err: err}
}

// parseTemplate never fails. An unclosed "{{" is literal text, stray else
// and end tags are ignored, and blocks left open run to the end of the
// template.
func parseTemplate(name, text string) *tree {
	t := &tree{name: name}
	current := &t.root
	var stack []*frame

	emit := func(n node) { *current = append(*current, n) }
	warn := func(format string, args ...any) {
		t.warnings = append(t.warnings, fmt.Sprintf(format, args...))
	}

	pos := 0
	for pos < len(text) {
		open := strings.Index(text[pos:], "{{")
		if open < 0 {
			emit(&textNode{text: text[pos:]})
			break
		}
		open += pos
		end := strings.Index(text[open+2:], "}}")
		if end < 0 {
			emit(&textNode{text: text[pos:]})
			break
		}
		end += open + 2

		inner, trimLeft, trimRight := trimMarkers(text[open+2 : end])
		lead := text[pos:open]
		if trimLeft {
			lead = strings.TrimRightFunc(lead, unicode.IsSpace)
		}
		if lead != "" {
			emit(&textNode{text: lead})
		}
		pos = end + 2
		if trimRight {
			for pos < len(text) && unicode.IsSpace(rune(text[pos])) {
				pos++
			}
		}

		if strings.HasPrefix(inner, "/*") && strings.HasSuffix(inner, "*/") {
			continue
		}

		keyword, rest := splitKeyword(inner)
		switch keyword {
		case "if":
			n := &ifNode{branches: []*branch{{cond: newAction(rest)}}}
			emit(n)
			stack = append(stack, &frame{keyword: keyword, ifn: n, parent: current})
			current = &n.branches[0].body

		case "for", "range":
			n, err := newLoop(rest)
			if err != nil {
				warn("malformed %s %q: %v", keyword, rest, err)
			}
			emit(n)
			stack = append(stack, &frame{keyword: keyword, loop: n, parent: current})
			current = &n.body

		case "else":
			if len(stack) == 0 {
				warn("stray else")
				continue
			}
			top := stack[len(stack)-1]
			if top.inElse {
				warn("else after else in %s block", top.keyword)
				continue
			}
			condKeyword, cond := splitKeyword(rest)
			switch {
			case top.ifn != nil && condKeyword == "if":
				b := &branch{cond: newAction(cond)}
				top.ifn.branches = append(top.ifn.branches, b)
				current = &b.body
			case rest != "":
				warn("unexpected %q after else", rest)
				fallthrough
			default:
				top.inElse = true
				if top.ifn != nil {
					current = &top.ifn.elseBody
				} else {
					current = &top.loop.elseBody
				}
			}

		case "end":
			if len(stack) == 0 {
				warn("stray end")
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			current = top.parent

		default:
			emit(newAction(inner))
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		warn("missing end for %s block", stack[i].keyword)
	}
	return t
}

// trimMarkers strips the {{- and -}} whitespace-trim markers. A marker must
// be separated from the expression by whitespace so "{{-1}}" stays a number.
func trimMarkers(raw string) (inner string, left, right bool) {
	inner = raw
	if len(inner) >= 2 && inner[0] == '-' && unicode.IsSpace(rune(inner[1])) {
		left = true
		inner = inner[1:]
	}
	if n := len(inner); n >= 2 && inner[n-1] == '-' && unicode.IsSpace(rune(inner[n-2])) {
		right = true
		inner = inner[:n-1]
	}
	return strings.TrimSpace(inner), left, right
}

func splitKeyword(s string) (string, string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// newLoop parses "x in expr", "i, x in expr" or a bare expression, which
// binds each item as "this".
func newLoop(header string) (*loopNode, error) {
	n := &loopNode{valVar: "this"}
	vars, src, found := strings.Cut(header, " in ")
	if !found {
		n.src = newAction(header)
		return n, nil
	}
	n.src = newAction(strings.TrimSpace(src))
	names := strings.Split(vars, ",")
	for i := range names {
		names[i] = strings.TrimPrefix(strings.TrimSpace(names[i]), "$")
		if !validVar(names[i]) {
			return n, fmt.Errorf("invalid loop variable %q", names[i])
		}
	}
	switch len(names) {
	case 1:
		n.valVar = names[0]
	case 2:
		n.keyVar, n.valVar = names[0], names[1]
	default:
		return n, fmt.Errorf("too many loop variables")
	}
	return n, nil
}

func validVar(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
