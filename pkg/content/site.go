package content

import (
	"time"
)

// Config is the site-wide metadata exposed to templates as site.*.
type Config struct {
	Title    string         `json:"title" validate:"required"`
	BaseURL  string         `json:"base_url" validate:"omitempty,url"`
	Language string         `json:"language" validate:"omitempty,bcp47_language_tag"`
	Theme    string         `json:"theme"`
	Params   map[string]any `json:"params"`
}

// DefaultConfig returns the metadata used for a fresh site.
func DefaultConfig() Config {
	return Config{
		Title:    "My Sundew Site",
		BaseURL:  "http://localhost/",
		Language: "en",
		Params:   map[string]any{},
	}
}

// BuildInfo describes the build in progress. Templates see it as
// site.build_config.
type BuildInfo struct {
	StartedAt     time.Time
	Version       string
	Workers       int
	Theme         string
	IncludeDrafts bool
}

// Properties implements templating.PropertyExposer.
func (b BuildInfo) Properties() map[string]any {
	return map[string]any{
		"started_at":     b.StartedAt,
		"version":        b.Version,
		"workers":        b.Workers,
		"max_workers":    b.Workers,
		"theme":          b.Theme,
		"include_drafts": b.IncludeDrafts,
	}
}

// Site is the loaded content tree. It is read-only while pages render.
type Site struct {
	Config Config
	Build  BuildInfo

	Home *Page
	// Regular holds every regular page, sorted.
	Regular []*Page
	// Sections holds the section list pages, sorted.
	Sections []*Page
	// Terms holds the tag term pages, sorted by title.
	Terms    []*Page
	Taxonomy *Page
	NotFound *Page

	// Problems lists files that could not be loaded. They are skipped.
	Problems []error
}

// All returns every page to render: home, sections, regular pages,
// taxonomy, terms and the 404 page.
func (s *Site) All() []*Page {
	out := make([]*Page, 0, len(s.Regular)+len(s.Sections)+len(s.Terms)+3)
	if s.Home != nil {
		out = append(out, s.Home)
	}
	out = append(out, s.Sections...)
	out = append(out, s.Regular...)
	if s.Taxonomy != nil {
		out = append(out, s.Taxonomy)
	}
	out = append(out, s.Terms...)
	if s.NotFound != nil {
		out = append(out, s.NotFound)
	}
	return out
}

// Properties implements templating.PropertyExposer.
func (s *Site) Properties() map[string]any {
	params := s.Config.Params
	if params == nil {
		params = map[string]any{}
	}
	props := map[string]any{
		"title":        s.Config.Title,
		"base_url":     s.Config.BaseURL,
		"language":     s.Config.Language,
		"theme":        s.Config.Theme,
		"params":       params,
		"build_config": s.Build,
		"pages":        pageList(s.Regular),
		"sections":     pageList(s.Sections),
		"tags":         pageList(s.Terms),
	}
	if s.Home != nil {
		props["home"] = s.Home
	}
	return props
}
