package templating

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
)

//go:embed all:defaults
var builtinFS embed.FS

// Kind classifies the page a template is requested for.
type Kind string

const (
	KindHome     Kind = "home"
	KindPage     Kind = "page"
	KindSection  Kind = "section"
	KindTaxonomy Kind = "taxonomy"
	KindTerm     Kind = "term"
	Kind404      Kind = "404"
)

// kindAliases are the conventional layout names tried after the kind itself.
var kindAliases = map[Kind]string{
	KindPage:     "single",
	KindHome:     "list",
	KindSection:  "list",
	KindTaxonomy: "list",
	KindTerm:     "list",
}

// Format is an output format and the file extension its templates use.
type Format struct {
	Name      string `json:"name"`
	Ext       string `json:"ext"`
	MediaType string `json:"media_type"`
}

var (
	FormatHTML  = Format{Name: "html", Ext: "html", MediaType: "text/html"}
	FormatJSON  = Format{Name: "json", Ext: "json", MediaType: "application/json"}
	FormatRSS   = Format{Name: "rss", Ext: "xml", MediaType: "application/rss+xml"}
	FormatPlain = Format{Name: "plain", Ext: "txt", MediaType: "text/plain"}

	// FormatMarkdown is only produced for user shortcode templates.
	FormatMarkdown = Format{Name: "markdown", Ext: "md", MediaType: "text/markdown"}
)

// FormatByName returns the output format registered under name.
func FormatByName(name string) (Format, bool) {
	for _, f := range []Format{FormatHTML, FormatJSON, FormatRSS, FormatPlain} {
		if f.Name == name {
			return f, true
		}
	}
	return Format{}, false
}

// Origin records which layer answered a lookup.
type Origin string

const (
	OriginSite    Origin = "site"
	OriginTheme   Origin = "theme"
	OriginBuiltin Origin = "builtin"
)

// Layer selects the user-supplied template tree a Loader reads from.
type Layer int

const (
	LayerSite Layer = iota
	LayerTheme
)

func (l Layer) origin() Origin {
	if l == LayerSite {
		return OriginSite
	}
	return OriginTheme
}

// Loader reads raw template text by logical name ("_default/single.html",
// "partials/head.html") from the site or theme layer. Missing files must be
// reported with an error wrapping fs.ErrNotExist.
type Loader interface {
	ReadTemplate(layer Layer, name string) (string, error)
}

// TemplateSource is one resolved template. It is immutable once returned.
type TemplateSource struct {
	Name    string
	Kind    Kind
	Section string
	Format  Format
	Origin  Origin
	Text    string
}

// sourceKey identifies a parsed tree. Text is part of the key so that two
// sources sharing a name never share a tree.
type sourceKey struct {
	origin Origin
	name   string
	text   string
}

func (s TemplateSource) key() sourceKey {
	return sourceKey{origin: s.Origin, name: s.Name, text: s.Text}
}

// Resolver picks the physical template answering a page/format request.
// Lookups are cached until Reset. All methods are concurrent-safe.
type Resolver struct {
	logger  *slog.Logger
	loader  Loader
	builtin fs.FS
	cache   sync.Map // lookup key -> TemplateSource, or nil when missing
}

// NewResolver returns a Resolver over the given loader, which may be nil when
// only the built-in templates are wanted. It fails when the built-in fallback
// template is missing, which indicates a broken build of the binary.
func NewResolver(logger *slog.Logger, loader Loader) (*Resolver, error) {
	return newResolver(logger, loader, builtinFS)
}

func newResolver(logger *slog.Logger, loader Loader, builtin fs.FS) (*Resolver, error) {
	if _, err := fs.Stat(builtin, "defaults/_default.html"); err != nil {
		return nil, fmt.Errorf("built-in fallback template missing: %w", err)
	}
	return &Resolver{logger: logger, loader: loader, builtin: builtin}, nil
}

// Reset drops every cached lookup.
func (r *Resolver) Reset() {
	r.cache.Clear()
}

// Resolve never fails: when no site, theme or kind-specific built-in template
// matches, the built-in _default.html is returned.
func (r *Resolver) Resolve(kind Kind, section string, format Format) TemplateSource {
	section = cleanSection(section)
	key := "layout:" + string(kind) + "/" + section + "/" + format.Name
	if v, ok := r.cache.Load(key); ok {
		return v.(TemplateSource)
	}

	src, ok := r.search(Candidates(kind, section, format))
	if !ok {
		src = r.builtinLayout(kind, format)
	}
	src.Kind, src.Section = kind, section
	r.cache.Store(key, src)
	r.logger.Debug("Resolved template", "kind", kind, "section", section, "format", format.Name, "template", src.Name, "origin", src.Origin)
	return src
}

// Candidates lists the user layout names tried for a request, most specific
// first.
func Candidates(kind Kind, section string, format Format) []string {
	names := []string{string(kind)}
	if alias, ok := kindAliases[kind]; ok {
		names = append(names, alias)
	}
	var out []string
	if section != "" {
		for _, n := range names {
			out = append(out, section+"/"+n+"."+format.Ext)
		}
	}
	for _, n := range names {
		out = append(out, "_default/"+n+"."+format.Ext)
	}
	return out
}

func (r *Resolver) builtinLayout(kind Kind, format Format) TemplateSource {
	for _, name := range []string{
		string(kind) + "." + format.Ext,
		"_default." + format.Ext,
		"_default.html",
	} {
		if data, err := fs.ReadFile(r.builtin, "defaults/"+name); err == nil {
			f := format
			if !strings.HasSuffix(name, "."+format.Ext) {
				f = FormatHTML
			}
			return TemplateSource{Name: name, Format: f, Origin: OriginBuiltin, Text: string(data)}
		}
	}
	// Unreachable once newResolver has checked the fallback.
	return TemplateSource{Name: "_default.html", Format: FormatHTML, Origin: OriginBuiltin}
}

// search tries names in the site layer, then the theme layer.
func (r *Resolver) search(names []string) (TemplateSource, bool) {
	if r.loader == nil {
		return TemplateSource{}, false
	}
	for _, layer := range []Layer{LayerSite, LayerTheme} {
		for _, name := range names {
			text, err := r.loader.ReadTemplate(layer, name)
			if err == nil {
				format, _ := FormatByName(extFormat(path.Ext(name)))
				return TemplateSource{Name: name, Format: format, Origin: layer.origin(), Text: text}, true
			}
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("Failed to read template", "layer", layer.origin(), "template", name, "error", err)
			}
		}
	}
	return TemplateSource{}, false
}

func extFormat(ext string) string {
	switch ext {
	case ".json":
		return "json"
	case ".xml":
		return "rss"
	case ".txt":
		return "plain"
	default:
		return "html"
	}
}

// Partial resolves partials/<name> through the site, theme and built-in
// layers. The ".html" extension is implied when name has none.
func (r *Resolver) Partial(name string) (TemplateSource, bool) {
	if !validName(name) {
		return TemplateSource{}, false
	}
	if path.Ext(name) == "" {
		name += ".html"
	}
	key := "partial:" + name
	if v, ok := r.cache.Load(key); ok {
		src, found := v.(TemplateSource)
		return src, found
	}

	logical := "partials/" + name
	src, ok := r.search([]string{logical})
	if !ok {
		if data, err := fs.ReadFile(r.builtin, "defaults/"+logical); err == nil {
			src, ok = TemplateSource{Name: logical, Format: FormatHTML, Origin: OriginBuiltin, Text: string(data)}, true
		}
	}
	if !ok {
		r.cache.Store(key, nil)
		return TemplateSource{}, false
	}
	r.cache.Store(key, src)
	return src, true
}

// Shortcode resolves a user shortcode template, shortcodes/<name>.md before
// shortcodes/<name>.html. There are no built-in shortcode templates.
func (r *Resolver) Shortcode(name string) (TemplateSource, bool) {
	if !validName(name) || strings.Contains(name, "/") {
		return TemplateSource{}, false
	}
	key := "shortcode:" + name
	if v, ok := r.cache.Load(key); ok {
		src, found := v.(TemplateSource)
		return src, found
	}
	src, ok := r.search([]string{"shortcodes/" + name + ".md", "shortcodes/" + name + ".html"})
	if !ok {
		r.cache.Store(key, nil)
		return TemplateSource{}, false
	}
	if strings.HasSuffix(src.Name, ".md") {
		src.Format = FormatMarkdown
	}
	r.cache.Store(key, src)
	return src, true
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "..") && !strings.HasPrefix(name, "/") && !strings.Contains(name, "\\")
}

func cleanSection(section string) string {
	section = strings.Trim(path.Clean("/"+section), "/")
	if section == "." || strings.Contains(section, "..") {
		return ""
	}
	return section
}
