package templating

// Context holds the root variables visible to one render pass: the shared
// site, the page being rendered, and any locals bound by loops or partials.
// A Context is immutable; With returns a derived child, so a single site value
// can be shared by every concurrent render.
type Context struct {
	site   any
	page   any
	parent *Context
	name   string
	value  any
}

// NewContext creates the root context for one page render. Either argument
// may be nil.
func NewContext(site, page any) *Context {
	return &Context{site: site, page: page}
}

// With returns a child context with name bound to value. The receiver is left
// untouched.
func (c *Context) With(name string, value any) *Context {
	if c == nil {
		c = &Context{}
	}
	return &Context{site: c.site, page: c.page, parent: c, name: name, value: value}
}

// WithLocals binds every entry of locals on top of c.
func (c *Context) WithLocals(locals map[string]any) *Context {
	out := c
	for _, k := range sortedKeys(locals) {
		out = out.With(k, locals[k])
	}
	return out
}

// Site returns the site root value.
func (c *Context) Site() any {
	if c == nil {
		return nil
	}
	return c.site
}

// Page returns the page root value.
func (c *Context) Page() any {
	if c == nil {
		return nil
	}
	return c.page
}

// Has reports whether name resolves to a root variable.
func (c *Context) Has(name string) bool {
	_, ok := c.root(name)
	return ok
}

func (c *Context) root(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	for cur := c; cur != nil && cur.name != ""; cur = cur.parent {
		if cur.name == name {
			return cur.value, true
		}
	}
	norm := normalizeName(name)
	for cur := c; cur != nil && cur.name != ""; cur = cur.parent {
		if normalizeName(cur.name) == norm {
			return cur.value, true
		}
	}
	switch norm {
	case "site":
		return c.site, c.site != nil
	case "page":
		return c.page, c.page != nil
	}
	return nil, false
}

// Resolve walks path from the root variables. It never fails loudly: the
// second result is false when any segment is missing.
func (c *Context) Resolve(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur, ok := c.root(path[0])
	if !ok {
		return nil, false
	}
	for _, seg := range path[1:] {
		cur, ok = property(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
