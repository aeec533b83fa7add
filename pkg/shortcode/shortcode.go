// Package shortcode expands {% name args %} tags in page content.
//
// Expansion runs in two phases around Markdown conversion. The content phase
// expands shortcodes whose output is Markdown (callouts, checklists) so the
// result is parsed as ordinary Markdown, and protects every other tag from
// the converter. The HTML phase then expands shortcodes whose output is HTML
// (embeds, figures) so Markdown never touches their markup.
package shortcode

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/kballard/go-shellquote"
)

// Kind is the phase a shortcode is expanded in.
type Kind int

const (
	// KindContent shortcodes produce Markdown and expand before conversion.
	KindContent Kind = iota
	// KindHTML shortcodes produce HTML and expand after conversion.
	KindHTML
)

func (k Kind) String() string {
	if k == KindContent {
		return "content"
	}
	return "html"
}

// Invocation is one use of a shortcode in a page.
type Invocation struct {
	Name       string
	Positional []string
	Named      map[string]string
	Inner      string
	HasBody    bool
	Depth      int
	Context    *templating.Context
}

// Get returns the named parameter, falling back to the positional one at pos
// (pass -1 for named only).
func (inv *Invocation) Get(name string, pos int) string {
	if v, ok := inv.Named[name]; ok {
		return v
	}
	if pos >= 0 && pos < len(inv.Positional) {
		return inv.Positional[pos]
	}
	return ""
}

// Bool reports whether a flag parameter is set, either as name=true or as a
// bare positional word.
func (inv *Invocation) Bool(name string) bool {
	if v, ok := inv.Named[name]; ok {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	for _, p := range inv.Positional {
		if p == name {
			return true
		}
	}
	return false
}

// params is the template view of the parameters: positional ones under
// their index, named ones under their name.
func (inv *Invocation) params() map[string]any {
	out := make(map[string]any, len(inv.Positional)+len(inv.Named))
	for i, p := range inv.Positional {
		out[strconv.Itoa(i)] = p
	}
	for k, v := range inv.Named {
		out[k] = v
	}
	return out
}

// Func renders one invocation.
type Func func(inv *Invocation) (string, error)

// Definition registers a shortcode implemented in Go.
type Definition struct {
	Name string
	Kind Kind
	// BodyRequired shortcodes must be closed with {% endname %}.
	BodyRequired bool
	Render       Func
}

// Markdowner converts Markdown to HTML. Shortcodes that accept Markdown
// bodies in the HTML phase use it.
type Markdowner interface {
	Convert(src string) (string, error)
}

var (
	errUnknown      = errors.New("unknown shortcode")
	errMissingClose = errors.New("missing close tag")
	errDepth        = errors.New("depth limit reached")
	errBudget       = errors.New("expansion limit reached")
	errWrongPhase   = errors.New("content shortcode outside content phase")
)

// Pipeline expands shortcodes. User templates under shortcodes/ take
// precedence over registered definitions. All methods are concurrent-safe.
type Pipeline struct {
	logger   *slog.Logger
	tm       *templating.TemplateManager
	markdown Markdowner
	maxDepth int
	// maxExpansions bounds the renders of one ExpandContent or ExpandHTML
	// call. Output is rescanned, so depth alone does not bound the work
	// when every level multiplies the tags.
	maxExpansions int

	mu          sync.RWMutex
	definitions map[string]Definition

	expansions  atomic.Uint64
	diagnostics atomic.Uint64
}

// NewPipeline returns a pipeline with the builtin shortcodes registered. md
// may be nil, in which case Markdown bodies are passed through unconverted.
func NewPipeline(logger *slog.Logger, tm *templating.TemplateManager, md Markdowner) *Pipeline {
	config := tm.GetConfig()
	p := &Pipeline{
		logger:        logger,
		tm:            tm,
		markdown:      md,
		maxDepth:      config.MaxShortcodeDepth,
		maxExpansions: config.MaxShortcodeExpansions,
		definitions:   make(map[string]Definition),
	}
	if p.maxExpansions <= 0 {
		p.maxExpansions = templating.DefaultMaxShortcodeExpansions
	}
	for _, def := range append(contentBuiltins(), p.htmlBuiltins()...) {
		if err := p.Register(def); err != nil {
			panic(err)
		}
	}
	return p
}

// Register adds a Go shortcode. Names cannot be registered twice.
func (p *Pipeline) Register(def Definition) error {
	if !nameRE.MatchString(def.Name) || strings.HasPrefix(def.Name, closePrefix) {
		return fmt.Errorf("shortcode: invalid name %q", def.Name)
	}
	if def.Render == nil {
		return fmt.Errorf("shortcode: %q has no implementation", def.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.definitions[def.Name]; exists {
		return fmt.Errorf("shortcode: %q already registered", def.Name)
	}
	p.definitions[def.Name] = def
	return nil
}

// Names returns the registered definitions grouped by kind.
func (p *Pipeline) Names() map[Kind][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Kind][]string)
	for name, def := range p.definitions {
		out[def.Kind] = append(out[def.Kind], name)
	}
	return out
}

// Stats returns the number of expansions and diagnostics so far.
func (p *Pipeline) Stats() (expansions, diagnostics uint64) {
	return p.expansions.Load(), p.diagnostics.Load()
}

// lookup resolves name to a definition, user templates first.
func (p *Pipeline) lookup(name string) (Definition, bool) {
	if src, ok := p.tm.Resolver().Shortcode(name); ok {
		kind := KindHTML
		if src.Format == templating.FormatMarkdown {
			kind = KindContent
		}
		return Definition{Name: name, Kind: kind, Render: p.templateFunc(src)}, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	def, ok := p.definitions[name]
	return def, ok
}

// templateFunc renders a user shortcode template with params, inner and name
// bound on top of the page context.
func (p *Pipeline) templateFunc(src templating.TemplateSource) Func {
	return func(inv *Invocation) (string, error) {
		positional := make([]any, len(inv.Positional))
		for i, s := range inv.Positional {
			positional[i] = s
		}
		ctx := inv.Context.WithLocals(map[string]any{
			"params": inv.params(),
			"args":   positional,
			"inner":  inv.Inner,
			"name":   inv.Name,
		})
		return p.tm.Render(src, ctx)
	}
}

// ExpandContent runs the content phase over Markdown source. Content
// shortcodes are replaced by their output; every other tag is protected so
// that it reaches ExpandHTML intact after conversion.
func (p *Pipeline) ExpandContent(markdown string, ctx *templating.Context) string {
	if !strings.Contains(markdown, tagOpen) {
		return markdown
	}
	budget := p.maxExpansions
	return p.expand(markdown, contextOrEmpty(ctx), KindContent, 0, &budget)
}

// ExpandHTML runs the HTML phase over converted output. Unknown shortcodes
// are reported here.
func (p *Pipeline) ExpandHTML(htmlText string, ctx *templating.Context) string {
	htmlText = unprotect(htmlText)
	if !strings.Contains(htmlText, tagOpen) {
		return htmlText
	}
	budget := p.maxExpansions
	return p.expand(htmlText, contextOrEmpty(ctx), KindHTML, 0, &budget)
}

func contextOrEmpty(ctx *templating.Context) *templating.Context {
	if ctx == nil {
		return templating.NewContext(nil, nil)
	}
	return ctx
}

// expand replaces the tags in text. budget is the number of renders left for
// the whole top-level call.
func (p *Pipeline) expand(text string, ctx *templating.Context, phase Kind, depth int, budget *int) string {
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for {
		t, ok := nextTag(text, pos)
		if !ok {
			break
		}
		segment := text[pos:t.start]
		end := t.end

		if t.escaped {
			b.WriteString(segment)
			if phase == KindContent {
				b.WriteString(text[t.start:t.end])
			} else {
				b.WriteString(t.literal)
			}
			pos = end
			continue
		}

		def, known := p.lookup(t.name)
		if phase == KindContent && (!known || def.Kind != KindContent) {
			b.WriteString(segment)
			b.WriteString(protect(text[t.start:t.end]))
			pos = end
			continue
		}

		out := p.render(t, def, known, ctx, phase, depth, budget)
		if phase == KindHTML {
			// A tag alone in a paragraph replaces the paragraph.
			if trimmed, ok := strings.CutSuffix(segment, "<p>"); ok && strings.HasPrefix(text[end:], "</p>") {
				segment = trimmed
				end += len("</p>")
			}
		} else if strings.Contains(out, "\n") {
			out = "\n\n" + strings.Trim(out, "\n") + "\n\n"
		}
		b.WriteString(segment)
		b.WriteString(out)
		pos = end
	}
	b.WriteString(text[pos:])
	return b.String()
}

// render expands one tag, returning its output or a diagnostic comment.
func (p *Pipeline) render(t tag, def Definition, known bool, ctx *templating.Context, phase Kind, depth int, budget *int) string {
	switch {
	case !known:
		return p.diagnose(t.name, errUnknown)
	case def.Kind != phase:
		return p.diagnose(t.name, errWrongPhase)
	case def.BodyRequired && !t.hasBody:
		return p.diagnose(t.name, errMissingClose)
	case depth >= p.maxDepth:
		return p.diagnose(t.name, errDepth)
	case *budget <= 0:
		return p.diagnose(t.name, errBudget)
	}
	*budget--

	args := t.args
	if phase == KindHTML {
		args = html.UnescapeString(args)
	}
	inv, err := parseArgs(args)
	if err != nil {
		return p.diagnose(t.name, err)
	}
	inv.Name = t.name
	inv.Inner = t.inner
	inv.HasBody = t.hasBody
	inv.Depth = depth
	inv.Context = ctx

	out, err := def.Render(inv)
	if err != nil {
		return p.diagnose(t.name, err)
	}
	p.expansions.Add(1)
	if strings.Contains(out, tagOpen) {
		out = p.expand(out, ctx, phase, depth+1, budget)
	}
	return out
}

// parseArgs splits the argument text like shell words. Words of the form
// key=value are named parameters.
func parseArgs(args string) (*Invocation, error) {
	words, err := shellquote.Split(args)
	if err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}
	inv := &Invocation{Named: make(map[string]string)}
	for _, w := range words {
		if k, v, ok := strings.Cut(w, "="); ok && nameRE.MatchString(k) {
			inv.Named[k] = v
			continue
		}
		inv.Positional = append(inv.Positional, w)
	}
	return inv, nil
}

func (p *Pipeline) diagnose(name string, err error) string {
	p.diagnostics.Add(1)
	p.logger.Warn("Shortcode not expanded", "shortcode", name, "reason", err)
	reason := strings.ReplaceAll(err.Error(), "--", "- -")
	return fmt.Sprintf("<!-- shortcode %q: %s -->", name, reason)
}
