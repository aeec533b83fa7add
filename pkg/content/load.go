package content

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/spf13/afero"
)

// Options controls Load.
type Options struct {
	// Dir is the content root on the filesystem.
	Dir           string
	Site          Config
	Build         BuildInfo
	IncludeDrafts bool
}

const (
	indexName   = "_index"
	bundleName  = "index"
	taxonomyURL = "/tags/"
	notFoundURL = "/404.html"
)

func isContentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// loader accumulates pages during one Load.
type loader struct {
	logger *slog.Logger
	opts   Options
	site   *Site
	byURL  map[string]*Page
}

// Load walks opts.Dir and builds the site. Files that cannot be read or
// parsed are logged, recorded in Site.Problems and skipped.
func Load(logger *slog.Logger, fsys afero.Fs, opts Options) (*Site, error) {
	if ok, err := afero.DirExists(fsys, opts.Dir); err != nil || !ok {
		return nil, fmt.Errorf("content directory %s not found", opts.Dir)
	}
	l := &loader{
		logger: logger,
		opts:   opts,
		site:   &Site{Config: opts.Site, Build: opts.Build},
		byURL:  make(map[string]*Page),
	}

	err := afero.Walk(fsys, opts.Dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isContentFile(p) {
			return nil
		}
		rel, err := filepath.Rel(opts.Dir, p)
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(fsys, p)
		if err != nil {
			l.problem(rel, err)
			return nil
		}
		page, err := l.newPage(filepath.ToSlash(rel), string(data))
		if err != nil {
			l.problem(rel, err)
			return nil
		}
		if page != nil {
			l.add(page)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk content: %w", err)
	}

	l.link()
	logger.Info("Content loaded",
		"pages", len(l.site.Regular),
		"sections", len(l.site.Sections),
		"terms", len(l.site.Terms),
		"problems", len(l.site.Problems))
	return l.site, nil
}

func (l *loader) problem(rel string, err error) {
	err = fmt.Errorf("%s: %w", rel, err)
	l.logger.Error("Skipping content file", "error", err)
	l.site.Problems = append(l.site.Problems, err)
}

// newPage parses one file. It returns nil for drafts that are not wanted.
func (l *loader) newPage(rel, src string) (*Page, error) {
	block, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, err
	}
	fm, err := parseFrontMatter(block)
	if err != nil {
		return nil, err
	}
	if fm.Draft && !l.opts.IncludeDrafts {
		l.logger.Debug("Skipping draft", "file", rel)
		return nil, nil
	}

	dir, base := path.Dir(rel), strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	if dir == "." {
		dir = ""
	}
	p := &Page{
		SourcePath:  rel,
		Title:       fm.Title,
		Description: fm.Description,
		Date:        fm.Date,
		Lastmod:     fm.Lastmod,
		Draft:       fm.Draft,
		Weight:      fm.Weight,
		Tags:        fm.Tags,
		Outputs:     fm.Outputs,
		Params:      fm.Params,
		Body:        body,
	}
	if p.Lastmod.IsZero() {
		p.Lastmod = p.Date
	}
	if dir != "" {
		p.Section = strings.SplitN(dir, "/", 2)[0]
	}

	switch {
	case base == indexName && dir == "":
		p.Kind = templating.KindHome
		p.URL = "/"
		if p.Title == "" {
			p.Title = l.opts.Site.Title
		}
	case base == indexName && !strings.Contains(dir, "/"):
		p.Kind = templating.KindSection
		p.Slug = templating.Slugify(dir)
		p.URL = "/" + dir + "/"
		if p.Title == "" {
			p.Title = templating.Humanize(dir)
		}
	default:
		p.Kind = templating.KindPage
		name := base
		if base == indexName || base == bundleName {
			// A bundle or nested index names its directory.
			name = path.Base(dir)
			dir = path.Dir(dir)
			if dir == "." {
				dir = ""
			}
		}
		p.Slug = fm.Slug
		if p.Slug == "" {
			p.Slug = templating.Slugify(name)
		}
		p.URL = "/" + path.Join(dir, p.Slug) + "/"
		if p.Title == "" {
			p.Title = templating.Humanize(name)
		}
	}
	if fm.URL != "" {
		p.URL = normalizeURL(fm.URL)
	}

	if fm.Summary != "" {
		p.Summary = fm.Summary
		p.explicitSummary = true
	}
	text := plainText(body)
	p.WordCount = len(strings.Fields(text))
	p.ReadingTime = readingTime(p.WordCount)
	if !p.explicitSummary {
		if before, _, ok := strings.Cut(body, MoreMarker); ok {
			p.Summary = plainText(before)
		} else {
			p.Summary = firstWords(text, summaryWords)
		}
	}
	return p, nil
}

// normalizeURL gives a frontmatter url a leading slash and, unless it names
// a file, a trailing one.
func normalizeURL(u string) string {
	u = "/" + strings.Trim(strings.TrimSpace(u), "/")
	if u != "/" && path.Ext(u) == "" {
		u += "/"
	}
	return u
}

func (l *loader) add(p *Page) {
	if prev, ok := l.byURL[p.URL]; ok {
		l.problem(p.SourcePath, fmt.Errorf("url %s already used by %s", p.URL, prev.SourcePath))
		return
	}
	l.byURL[p.URL] = p
	switch p.Kind {
	case templating.KindHome:
		l.site.Home = p
	case templating.KindSection:
		l.site.Sections = append(l.site.Sections, p)
	default:
		l.site.Regular = append(l.site.Regular, p)
	}
}

// generated creates a list page that has no source file.
func (l *loader) generated(kind templating.Kind, section, url, title string) *Page {
	p := &Page{Kind: kind, Section: section, URL: url, Title: title, Params: map[string]any{}}
	if section != "" {
		p.Slug = templating.Slugify(section)
	}
	l.byURL[url] = p
	return p
}

// link fills in missing list pages, builds the tag taxonomy, sorts
// everything and computes permalinks.
func (l *loader) link() {
	s := l.site
	if s.Home == nil {
		s.Home = l.generated(templating.KindHome, "", "/", s.Config.Title)
	}

	sections := make(map[string]*Page, len(s.Sections))
	for _, sec := range s.Sections {
		sections[sec.Section] = sec
	}
	for _, p := range s.Regular {
		if p.Section == "" {
			continue
		}
		sec, ok := sections[p.Section]
		if !ok {
			sec = l.generated(templating.KindSection, p.Section, "/"+p.Section+"/", templating.Humanize(p.Section))
			sections[p.Section] = sec
			s.Sections = append(s.Sections, sec)
		}
		sec.Pages = append(sec.Pages, p)
	}

	terms := make(map[string]*Page)
	for _, p := range s.Regular {
		for _, tag := range p.Tags {
			slug := templating.Slugify(tag)
			if slug == "" {
				continue
			}
			term, ok := terms[slug]
			if !ok {
				term = l.generated(templating.KindTerm, "tags", taxonomyURL+slug+"/", tag)
				term.Slug = slug
				terms[slug] = term
				s.Terms = append(s.Terms, term)
			}
			if !slices.Contains(term.Pages, p) {
				term.Pages = append(term.Pages, p)
			}
		}
	}
	if len(s.Terms) > 0 {
		s.Taxonomy = l.generated(templating.KindTaxonomy, "tags", taxonomyURL, "Tags")
		slices.SortFunc(s.Terms, func(a, b *Page) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
		s.Taxonomy.Pages = s.Terms
		for _, term := range s.Terms {
			SortPages(term.Pages)
		}
	}

	s.NotFound = l.generated(templating.Kind404, "", notFoundURL, "Page not found")

	SortPages(s.Regular)
	SortPages(s.Sections)
	for _, sec := range s.Sections {
		SortPages(sec.Pages)
	}
	s.Home.Pages = s.Regular

	base := strings.TrimSuffix(s.Config.BaseURL, "/")
	for _, p := range s.All() {
		p.Permalink = base + p.URL
	}
}
