package templating

import (
	"fmt"
	"strings"
)

// maxWarnings caps the warnings kept for one render so a degraded loop cannot
// grow the result without bound.
const maxWarnings = 100

// renderState is owned by one top-level render. Nested partial renders get
// their own state with depth+1 but share the warning list.
type renderState struct {
	tm       *TemplateManager
	name     string
	depth    int
	warnings *[]string
}

func (s *renderState) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !s.tm.config.StrictMode {
		s.tm.logger.Debug("Template expression degraded", "template", s.name, "detail", msg)
		return
	}
	s.tm.logger.Warn("Template expression degraded", "template", s.name, "detail", msg)
	s.record(msg)
}

func (s *renderState) record(msg string) {
	if len(*s.warnings) < maxWarnings {
		*s.warnings = append(*s.warnings, s.name+": "+msg)
	}
}

func (s *renderState) execute(b *strings.Builder, t *tree, ctx *Context) error {
	for _, w := range t.warnings {
		s.warn("%s", w)
	}
	return s.walk(b, t.root, ctx)
}

func (s *renderState) walk(b *strings.Builder, nodes []node, ctx *Context) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case *textNode:
			b.WriteString(n.text)
		case *actionNode:
			v, err := s.action(n, ctx)
			if err != nil {
				return err
			}
			b.WriteString(toString(v))
		case *ifNode:
			if err := s.conditional(b, n, ctx); err != nil {
				return err
			}
		case *loopNode:
			if err := s.loop(b, n, ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *renderState) action(n *actionNode, ctx *Context) (any, error) {
	if n.err != nil {
		s.warn("malformed expression %q: %v", n.src, n.err)
		return "", nil
	}
	return s.eval(n.expr, ctx)
}

func (s *renderState) conditional(b *strings.Builder, n *ifNode, ctx *Context) error {
	for _, br := range n.branches {
		v, err := s.action(br.cond, ctx)
		if err != nil {
			return err
		}
		if truthy(v) {
			return s.walk(b, br.body, ctx)
		}
	}
	return s.walk(b, n.elseBody, ctx)
}

func (s *renderState) loop(b *strings.Builder, n *loopNode, ctx *Context) error {
	v, err := s.action(n.src, ctx)
	if err != nil {
		return err
	}
	keys, items, ok := iterate(v)
	if !ok {
		s.warn("cannot range over %T in %q", v, n.src.src)
	}
	if len(items) == 0 {
		return s.walk(b, n.elseBody, ctx)
	}
	for i, item := range items {
		child := ctx.With(n.valVar, item)
		if n.keyVar != "" {
			child = child.With(n.keyVar, keys[i])
		}
		child = child.With("loop", map[string]any{
			"index":  int64(i),
			"number": int64(i + 1),
			"first":  i == 0,
			"last":   i == len(items)-1,
			"length": int64(len(items)),
		})
		if err := s.walk(b, n.body, child); err != nil {
			return err
		}
	}
	return nil
}

// iterate yields loop keys and items. Maps and exposers iterate in sorted key
// order; lists are keyed by index.
func iterate(v any) ([]any, []any, bool) {
	if e, ok := v.(PropertyExposer); ok {
		v = e.Properties()
	}
	if m, ok := v.(map[string]any); ok {
		names := sortedKeys(m)
		keys := make([]any, len(names))
		items := make([]any, len(names))
		for i, k := range names {
			keys[i], items[i] = k, m[k]
		}
		return keys, items, true
	}
	items, ok := toList(v)
	if !ok {
		return nil, nil, false
	}
	keys := make([]any, len(items))
	for i := range items {
		keys[i] = int64(i)
	}
	return keys, items, true
}

func (s *renderState) eval(e expr, ctx *Context) (any, error) {
	switch e := e.(type) {
	case *literalExpr:
		return e.value, nil
	case *pathExpr:
		if v, ok := ctx.Resolve(e.segs); ok {
			return v, nil
		}
		if len(e.segs) == 1 {
			if entry, ok := s.tm.registry.Entry(e.segs[0]); ok && entry.MinArgs == 0 {
				return s.tm.registry.Invoke(entry.Name, nil)
			}
		}
		s.warn("unresolved path %q", e.raw)
		return "", nil
	case *callExpr:
		return s.call(e, ctx, nil, false)
	case *pipeExpr:
		v, err := s.eval(e.stages[0], ctx)
		if err != nil {
			return nil, err
		}
		for _, stage := range e.stages[1:] {
			if v, err = s.call(stage.(*callExpr), ctx, v, true); err != nil {
				return nil, err
			}
		}
		return v, nil
	default:
		return "", nil
	}
}

// call evaluates a function call. When piped is set, the incoming value is
// appended as the last argument.
func (s *renderState) call(c *callExpr, ctx *Context, in any, piped bool) (any, error) {
	args := make([]any, 0, len(c.args)+1)
	for _, a := range c.args {
		v, err := s.eval(a, ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if piped {
		args = append(args, in)
	}

	if c.name == "partial" {
		return s.partialCall(args, ctx)
	}
	if !s.tm.registry.HasFunction(c.name) {
		s.warn("unknown function %q", c.name)
		return "", nil
	}
	return s.tm.registry.Invoke(c.name, args)
}

// partialCall implements the partial special form: partial "name" [data].
func (s *renderState) partialCall(args []any, ctx *Context) (any, error) {
	if len(args) == 0 || len(args) > 2 {
		s.warn("partial expects a name and optional data, got %d arguments", len(args))
		return "", nil
	}
	if len(args) == 2 {
		ctx = ctx.With("this", args[1])
	}
	return s.expandPartial(toString(args[0]), ctx)
}
