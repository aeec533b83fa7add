// Package content models a site's pages and loads them from Markdown files
// with YAML frontmatter.
package content

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/CTAG07/Sundew/pkg/templating"
	strip "github.com/grokify/html-strip-tags-go"
)

const (
	// MoreMarker separates an explicit summary from the rest of a page.
	MoreMarker = "<!--more-->"

	summaryWords   = 70
	wordsPerMinute = 200
)

// Page is one output page: a Markdown file, a generated list page or the
// 404 page. Fields other than Content and the derived text statistics are
// fixed once Load returns.
type Page struct {
	Kind        templating.Kind
	Section     string
	Slug        string
	URL         string
	Permalink   string
	SourcePath  string
	Title       string
	Description string
	Date        time.Time
	Lastmod     time.Time
	Draft       bool
	Weight      int
	Tags        []string
	Outputs     []string
	Params      map[string]any

	// Body is the raw Markdown after the frontmatter.
	Body string
	// Content is the rendered HTML body, set by the build's first pass.
	Content     string
	Summary     string
	WordCount   int
	ReadingTime int

	// Pages lists the children of home, section, taxonomy and term pages.
	Pages []*Page

	explicitSummary bool
}

// IsList reports whether the page lists other pages.
func (p *Page) IsList() bool {
	switch p.Kind {
	case templating.KindHome, templating.KindSection, templating.KindTaxonomy, templating.KindTerm:
		return true
	}
	return false
}

// SetContent stores the rendered body and recomputes the word count, reading
// time and, unless frontmatter supplied one, the summary.
func (p *Page) SetContent(html string) {
	p.Content = html
	text := plainText(html)
	p.WordCount = len(strings.Fields(text))
	p.ReadingTime = readingTime(p.WordCount)
	if p.explicitSummary {
		return
	}
	if before, _, ok := strings.Cut(html, MoreMarker); ok {
		p.Summary = plainText(before)
		return
	}
	p.Summary = firstWords(text, summaryWords)
}

// Properties implements templating.PropertyExposer.
func (p *Page) Properties() map[string]any {
	return map[string]any{
		"kind":         string(p.Kind),
		"section":      p.Section,
		"slug":         p.Slug,
		"url":          p.URL,
		"permalink":    p.Permalink,
		"source":       p.SourcePath,
		"title":        p.Title,
		"description":  p.Description,
		"date":         p.Date,
		"lastmod":      p.Lastmod,
		"draft":        p.Draft,
		"weight":       p.Weight,
		"tags":         p.Tags,
		"params":       p.Params,
		"content":      p.Content,
		"summary":      p.Summary,
		"word_count":   p.WordCount,
		"reading_time": p.ReadingTime,
		"pages":        pageList(p.Pages),
		"is_list":      p.IsList(),
	}
}

// pageList converts pages to the []any form templates iterate.
func pageList(pages []*Page) []any {
	out := make([]any, len(pages))
	for i, p := range pages {
		out[i] = p
	}
	return out
}

// SortPages orders pages by weight, then newest first, then title. Pages
// without a weight sort after weighted ones.
func SortPages(pages []*Page) {
	slices.SortStableFunc(pages, comparePages)
}

func comparePages(a, b *Page) int {
	if a.Weight != b.Weight {
		switch {
		case a.Weight == 0:
			return 1
		case b.Weight == 0:
			return -1
		}
		return cmp.Compare(a.Weight, b.Weight)
	}
	if !a.Date.Equal(b.Date) {
		return b.Date.Compare(a.Date)
	}
	if c := cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
		return c
	}
	return cmp.Compare(a.URL, b.URL)
}

func plainText(html string) string {
	return strings.Join(strings.Fields(strip.StripTags(html)), " ")
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}

func readingTime(words int) int {
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / wordsPerMinute))
}
