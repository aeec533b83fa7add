package templating

import (
	"fmt"
	"strings"
)

// ExpandPartial renders partials/<name> against ctx as if it were invoked at
// the given nesting depth. A call at or beyond MaxPartialDepth renders nothing
// (or a marker comment when DepthMarker is set); a missing partial renders
// nothing. Only function argument errors are returned.
func (tm *TemplateManager) ExpandPartial(name string, ctx *Context, depth int) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	var warnings []string
	s := &renderState{tm: tm, name: "partials/" + name, depth: depth, warnings: &warnings}
	return s.expandPartial(name, ctx)
}

func (s *renderState) expandPartial(name string, ctx *Context) (string, error) {
	tm := s.tm
	if s.depth >= tm.config.MaxPartialDepth {
		tm.logger.Warn("Partial depth limit reached, skipping expansion",
			"partial", name, "depth", s.depth, "limit", tm.config.MaxPartialDepth, "template", s.name)
		s.record(fmt.Sprintf("partial %q: depth limit reached", name))
		if tm.config.DepthMarker {
			return fmt.Sprintf("<!-- partial %q: depth limit reached -->", name), nil
		}
		return "", nil
	}

	src, ok := tm.resolver.Partial(name)
	if !ok {
		tm.logger.Warn("Partial not found", "partial", name, "template", s.name)
		s.record(fmt.Sprintf("partial %q not found", name))
		return "", nil
	}

	child := &renderState{tm: tm, name: src.Name, depth: s.depth + 1, warnings: s.warnings}
	var b strings.Builder
	if err := child.execute(&b, tm.tree(src), ctx); err != nil {
		return "", err
	}
	return b.String(), nil
}
