package content

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadSite(t *testing.T, files map[string]string, drafts bool) *Site {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, text := range files {
		require.NoError(t, afero.WriteFile(fsys, "content/"+name, []byte(text), 0o644))
	}
	site, err := Load(testLogger(), fsys, Options{
		Dir:           "content",
		Site:          Config{Title: "Test Site", BaseURL: "https://example.com/", Language: "en"},
		IncludeDrafts: drafts,
	})
	require.NoError(t, err)
	return site
}

func urls(pages []*Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.URL
	}
	return out
}

func TestSplitFrontMatter(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		wantBlock string
		wantBody  string
		wantErr   bool
	}{
		{"None", "# Hello\n", "", "# Hello\n", false},
		{"Basic", "---\ntitle: Hi\n---\nBody\n", "title: Hi\n", "Body\n", false},
		{"CRLF", "---\r\ntitle: Hi\r\n---\r\nBody", "title: Hi\n", "Body", false},
		{"Empty", "---\n---\nBody", "", "Body", false},
		{"RuleInBody", "---\na: 1\n---\ntext\n---\nmore", "a: 1\n", "text\n---\nmore", false},
		{"Unterminated", "---\ntitle: Hi\nBody", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, body, err := splitFrontMatter(tt.src)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUnterminated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBlock, block)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestParseFrontMatter(t *testing.T) {
	fm, err := parseFrontMatter(`title: Hello
date: 2024-03-15
lastmod: "2024-04-01 10:30"
weight: 2
draft: true
tags: [Go, Static Sites]
outputs: html, json
author: Jo
params:
  hero: /img/hero.png
`)
	require.NoError(t, err)
	assert.Equal(t, "Hello", fm.Title)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), fm.Date)
	assert.Equal(t, time.Date(2024, 4, 1, 10, 30, 0, 0, time.UTC), fm.Lastmod)
	assert.Equal(t, 2, fm.Weight)
	assert.True(t, fm.Draft)
	assert.Equal(t, []string{"Go", "Static Sites"}, fm.Tags)
	assert.Equal(t, []string{"html", "json"}, fm.Outputs)
	assert.Equal(t, "Jo", fm.Params["author"])
	assert.Equal(t, "/img/hero.png", fm.Params["hero"])

	_, err = parseFrontMatter("date: yesterday")
	assert.ErrorContains(t, err, "date")
	_, err = parseFrontMatter("title: [unclosed")
	assert.ErrorContains(t, err, "invalid frontmatter")
}

func TestLoad_KindsAndURLs(t *testing.T) {
	site := loadSite(t, map[string]string{
		"_index.md":             "---\ntitle: Welcome\n---\nHome body",
		"about.md":              "---\ntitle: About\n---\nAbout us",
		"posts/_index.md":       "---\ntitle: Writing\n---\n",
		"posts/first-post.md":   "---\ndate: 2024-01-02\n---\nFirst",
		"posts/second/index.md": "---\ntitle: Second\ndate: 2024-02-03\n---\nSecond",
		"posts/Custom.md":       "---\ntitle: Custom\nslug: renamed\n---\n",
		"docs/guide.md":         "---\ntitle: Guide\nurl: manual/guide\n---\n",
		"docs/deep/_index.md":   "---\ntitle: Deep\n---\n",
		"notes/ignored.txt":     "not content",
	}, false)
	require.Empty(t, site.Problems)

	assert.Equal(t, templating.KindHome, site.Home.Kind)
	assert.Equal(t, "Welcome", site.Home.Title)
	assert.Equal(t, "https://example.com/", site.Home.Permalink)

	byURL := make(map[string]*Page)
	for _, p := range site.All() {
		byURL[p.URL] = p
	}
	first := byURL["/posts/first-post/"]
	require.NotNil(t, first)
	assert.Equal(t, "First post", first.Title, "titles default to the humanized file name")
	assert.Equal(t, "posts", first.Section)
	assert.Equal(t, "https://example.com/posts/first-post/", first.Permalink)

	assert.Contains(t, byURL, "/posts/second/", "bundles are named by their directory")
	assert.Contains(t, byURL, "/posts/renamed/")
	assert.Contains(t, byURL, "/manual/guide/")
	assert.Contains(t, byURL, "/docs/deep/")
	assert.Equal(t, templating.KindPage, byURL["/docs/deep/"].Kind)

	posts := byURL["/posts/"]
	require.NotNil(t, posts)
	assert.Equal(t, templating.KindSection, posts.Kind)
	assert.Equal(t, "Writing", posts.Title)
	docs := byURL["/docs/"]
	require.NotNil(t, docs, "missing section pages are created")
	assert.Equal(t, "Docs", docs.Title)
	assert.Len(t, docs.Pages, 2)

	assert.Equal(t, templating.Kind404, site.NotFound.Kind)
	assert.Equal(t, "/404.html", site.NotFound.URL)
	assert.Nil(t, site.Taxonomy, "no tags, no taxonomy")
}

func TestLoad_Drafts(t *testing.T) {
	files := map[string]string{
		"a.md": "---\ntitle: A\n---\n",
		"b.md": "---\ntitle: B\ndraft: true\n---\n",
	}
	assert.Len(t, loadSite(t, files, false).Regular, 1)
	assert.Len(t, loadSite(t, files, true).Regular, 2)
}

func TestLoad_Sorting(t *testing.T) {
	site := loadSite(t, map[string]string{
		"posts/old.md":     "---\ntitle: Old\ndate: 2020-01-01\n---\n",
		"posts/new.md":     "---\ntitle: New\ndate: 2024-01-01\n---\n",
		"posts/pinned.md":  "---\ntitle: Pinned\nweight: 1\ndate: 2019-01-01\n---\n",
		"posts/pinned2.md": "---\ntitle: Pinned 2\nweight: 2\n---\n",
		"posts/alpha.md":   "---\ntitle: alpha\n---\n",
		"posts/beta.md":    "---\ntitle: Beta\n---\n",
	}, false)

	assert.Equal(t, []string{
		"/posts/pinned/", "/posts/pinned2/", "/posts/new/", "/posts/old/", "/posts/alpha/", "/posts/beta/",
	}, urls(site.Sections[0].Pages))
	assert.Equal(t, urls(site.Regular), urls(site.Home.Pages))
}

func TestLoad_Tags(t *testing.T) {
	site := loadSite(t, map[string]string{
		"a.md": "---\ntitle: A\ntags: [Go, Static Sites]\n---\n",
		"b.md": "---\ntitle: B\ntags: go\ndate: 2024-01-01\n---\n",
		"c.md": "---\ntitle: C\n---\n",
	}, false)

	require.NotNil(t, site.Taxonomy)
	assert.Equal(t, "/tags/", site.Taxonomy.URL)
	assert.Equal(t, []string{"/tags/go/", "/tags/static-sites/"}, urls(site.Terms))

	goTerm := site.Terms[0]
	assert.Equal(t, templating.KindTerm, goTerm.Kind)
	assert.Equal(t, "Go", goTerm.Title, "the first spelling names the term")
	assert.Equal(t, []string{"/b/", "/a/"}, urls(goTerm.Pages))
}

func TestLoad_Problems(t *testing.T) {
	site := loadSite(t, map[string]string{
		"good.md": "---\ntitle: Good\n---\n",
		"bad.md":  "---\ntitle: [broken\n---\n",
		"open.md": "---\ntitle: Open\n",
		"dup.md":  "---\nurl: /good/\n---\n",
	}, false)

	assert.Len(t, site.Problems, 3)
	assert.Equal(t, []string{"/good/"}, urls(site.Regular))

	_, err := Load(testLogger(), afero.NewMemMapFs(), Options{Dir: "missing"})
	assert.Error(t, err)
}

func TestPage_SetContent(t *testing.T) {
	p := &Page{}
	p.SetContent("<p>One <em>two</em> three.</p>")
	assert.Equal(t, 3, p.WordCount)
	assert.Equal(t, 1, p.ReadingTime)
	assert.Equal(t, "One two three.", p.Summary)

	p.SetContent("<p>Intro here.</p>\n<!--more-->\n<p>Rest of it.</p>")
	assert.Equal(t, "Intro here.", p.Summary)

	explicit := loadSite(t, map[string]string{"a.md": "---\nsummary: Given\n---\nBody text"}, false).Regular[0]
	explicit.SetContent("<p>Body text</p>")
	assert.Equal(t, "Given", explicit.Summary)
}

func TestProperties(t *testing.T) {
	site := loadSite(t, map[string]string{
		"posts/a.md": "---\ntitle: A\ndate: 2024-03-15\ntags: [x]\nauthor: Jo\n---\nSome words here",
	}, false)
	site.Build = BuildInfo{StartedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Workers: 4}

	logger := testLogger()
	config := templating.DefaultConfig()
	tm, err := templating.NewTemplateManager(logger, nil, &config)
	require.NoError(t, err)

	page := site.Regular[0]
	ctx := templating.NewContext(site, page)
	out, err := tm.RenderString("{{ page.title }}|{{ page.params.author }}|{{ page.word_count }}|{{ isoDate page.date }}|{{ page.tags.0 }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "A|Jo|3|2024-03-15|x", out)

	out, err = tm.RenderString("{{ site.title }}|{{ year site.buildConfig.startedAt }}|{{ site.build_config.max_workers }}|{{ for s in site.sections }}{{ s.url }}{{ end }}|{{ len site.pages }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Test Site|2024|4|/posts/|1", out)
}
