package build

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/CTAG07/Sundew/pkg/buildlog"
	"github.com/CTAG07/Sundew/pkg/content"
	"github.com/CTAG07/Sundew/pkg/markdown"
	"github.com/CTAG07/Sundew/pkg/shortcode"
	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/CTAG07/Sundew/pkg/theme"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var siteFiles = map[string]string{
	"site/content/_index.md":      "---\ntitle: Home\n---\nWelcome to **Sundew**.\n",
	"site/content/about.md":       "---\ntitle: About\n---\nAbout page.\n",
	"site/content/posts/hello.md": "---\ntitle: Hello World\ndate: 2024-03-15\ntags: [Go]\n---\n{% note %}\nRead *this*.\n{% endnote %}\n\nBody text here.\n\n{% youtube dQw4w9WgXcQ %}\n",
	"site/static/css/style.css":   "body{}",
}

type fixture struct {
	builder *Builder
	site    *content.Site
	out     afero.Fs
	config  *Config
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupBuild loads files into an in-memory source tree and returns a
// builder writing to a separate in-memory output.
func setupBuild(t *testing.T, files map[string]string, mutate func(*Config)) *fixture {
	t.Helper()
	logger := testLogger()
	src := afero.NewMemMapFs()
	for name, text := range files {
		require.NoError(t, afero.WriteFile(src, name, []byte(text), 0o644))
	}

	config := DefaultConfig()
	config.SourceDir = "site"
	config.Workers = 4
	if mutate != nil {
		mutate(config)
	}

	th, err := theme.Open(logger, src, theme.Options{
		LayoutsDir: config.Path(config.LayoutsDir),
		StaticDir:  config.Path(config.StaticDir),
	})
	require.NoError(t, err)
	tmplConfig := templating.DefaultConfig()
	tm, err := templating.NewTemplateManager(logger, th, &tmplConfig)
	require.NoError(t, err)
	md := markdown.NewConverter(logger, markdown.DefaultConfig())
	sc := shortcode.NewPipeline(logger, tm, md)

	site, err := content.Load(logger, src, content.Options{
		Dir:  config.Path(config.ContentDir),
		Site: content.Config{Title: "Test Site", BaseURL: "https://example.com/", Language: "en"},
	})
	require.NoError(t, err)

	out := afero.NewMemMapFs()
	b := NewBuilder(logger, config, tm, sc, md, out)
	b.SetStatic(th)
	return &fixture{builder: b, site: site, out: out, config: config}
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := afero.ReadFile(f.out, filepath.Join(f.config.OutputDir, filepath.FromSlash(name)))
	require.NoError(t, err, name)
	return string(data)
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	if n.Type == html.ElementNode && n.DataAtom == a {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, findAll(c, a)...)
	}
	return out
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		url    string
		format templating.Format
		want   string
	}{
		{"/", templating.FormatHTML, "index.html"},
		{"/", templating.FormatRSS, "index.xml"},
		{"/posts/hello/", templating.FormatHTML, "posts/hello/index.html"},
		{"/tags/go/", templating.FormatJSON, "tags/go/index.json"},
		{"/404.html", templating.FormatHTML, "404.html"},
		{"/feeds/all.html", templating.FormatRSS, "feeds/all.xml"},
		{"", templating.FormatPlain, "index.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.url+"/"+tt.format.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputPath(&content.Page{URL: tt.url}, tt.format))
		})
	}
}

func TestBuild_Site(t *testing.T) {
	f := setupBuild(t, siteFiles, nil)

	report, err := f.builder.Build(context.Background(), f.site)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Pages)
	assert.Equal(t, 11, report.Rendered)
	assert.Zero(t, report.Skipped)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Static)
	assert.Equal(t, uint64(2), report.Expansions)

	for _, name := range []string{
		"index.html", "index.xml", "index.json",
		"posts/index.html", "posts/index.xml",
		"posts/hello/index.html", "about/index.html",
		"tags/index.html", "tags/go/index.html", "tags/go/index.xml",
		"404.html", "css/style.css",
	} {
		exists, err := afero.Exists(f.out, filepath.Join("public", filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.True(t, exists, name)
	}

	post := f.read(t, "posts/hello/index.html")
	doc, err := html.Parse(strings.NewReader(post))
	require.NoError(t, err)
	h1 := findAll(doc, atom.H1)
	require.Len(t, h1, 1)
	assert.Equal(t, "Hello World", h1[0].FirstChild.Data)
	assert.Len(t, findAll(doc, atom.Blockquote), 1, "the note callout becomes a blockquote")
	assert.Len(t, findAll(doc, atom.Iframe), 1)
	assert.Contains(t, post, "<em>this</em>")
	assert.Contains(t, post, "1 min read")
	assert.Contains(t, post, `href="/tags/go/"`)
	assert.Contains(t, post, `<link rel="canonical" href="https://example.com/posts/hello/">`)
	assert.NotContains(t, post, "{%")

	home := f.read(t, "index.html")
	assert.Contains(t, home, "<strong>Sundew</strong>")
	assert.Contains(t, home, `<a href="/posts/hello/">Hello World</a>`)
	assert.Contains(t, home, `<a href="/posts/">Posts</a>`, "sections are listed in the header")

	rss := f.read(t, "index.xml")
	assert.Contains(t, rss, "<link>https://example.com/posts/hello/</link>")
	assert.Contains(t, rss, "<pubDate>Fri, 15 Mar 2024")

	var feed struct {
		Title string `json:"title"`
		Pages []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"pages"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "index.json")), &feed))
	assert.Equal(t, "Home", feed.Title)
	require.Len(t, feed.Pages, 2)
	assert.Equal(t, "https://example.com/posts/hello/", feed.Pages[0].URL)

	assert.Contains(t, f.read(t, "404.html"), "Page not found")
	assert.Contains(t, f.read(t, "tags/go/index.html"), `<a href="/posts/hello/">Hello World</a>`)
}

func TestBuild_OutputsOverride(t *testing.T) {
	files := map[string]string{
		"site/content/notes.md": "---\ntitle: Notes\noutputs: [html, plain]\n---\nPlain *text*.\n",
	}
	f := setupBuild(t, files, func(c *Config) {
		c.Outputs = map[string][]string{"home": {"html"}}
	})

	report, err := f.builder.Build(context.Background(), f.site)
	require.NoError(t, err)
	assert.Equal(t, "Notes\n\nPlain text.", strings.TrimSpace(f.read(t, "notes/index.txt")))
	exists, _ := afero.Exists(f.out, "public/index.xml")
	assert.False(t, exists, "home outputs come from the config")
	assert.Equal(t, 4, report.Rendered)
}

func TestBuild_ArgumentErrors(t *testing.T) {
	files := map[string]string{
		"site/content/ok.md":                "---\ntitle: OK\n---\n",
		"site/content/posts/broken.md":      "---\ntitle: Broken\n---\n",
		"site/layouts/posts/single.html":    "{{ div 1 0 }}",
		"site/layouts/_default/single.html": "<h1>{{ page.title }}</h1>",
	}

	t.Run("Skip", func(t *testing.T) {
		f := setupBuild(t, files, nil)
		report, err := f.builder.Build(context.Background(), f.site)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Skipped)
		require.Len(t, report.Errors, 1)
		assert.ErrorIs(t, report.Errors[0], templating.ErrDivideByZero)

		var pageErr *PageError
		require.ErrorAs(t, report.Errors[0], &pageErr)
		assert.Equal(t, "/posts/broken/", pageErr.URL)
		assert.Equal(t, "<h1>OK</h1>", f.read(t, "ok/index.html"))

		exists, _ := afero.Exists(f.out, "public/posts/broken/index.html")
		assert.False(t, exists)
	})

	t.Run("Abort", func(t *testing.T) {
		f := setupBuild(t, files, func(c *Config) { c.AbortOnError = true })
		_, err := f.builder.Build(context.Background(), f.site)
		require.Error(t, err)
		var argErr *templating.ArgumentError
		assert.ErrorAs(t, err, &argErr)
		assert.Equal(t, "div", argErr.Func)
	})
}

// panicky converts like goldmark but panics on a marker.
type panicky struct {
	Converter
	calls atomic.Int32
}

func (p *panicky) Convert(src string) (string, error) {
	p.calls.Add(1)
	if strings.Contains(src, "boom") {
		panic("converter exploded")
	}
	return p.Converter.Convert(src)
}

func TestBuild_RecoversPanics(t *testing.T) {
	files := map[string]string{
		"site/content/fine.md": "fine",
		"site/content/bad.md":  "boom",
	}
	f := setupBuild(t, files, nil)
	conv := &panicky{Converter: f.builder.markdown}
	f.builder.markdown = conv

	report, err := f.builder.Build(context.Background(), f.site)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.ErrorContains(t, report.Errors[0], "panic: converter exploded")
	assert.Contains(t, f.read(t, "fine/index.html"), "fine")
	assert.Equal(t, int32(len(f.site.All())), conv.calls.Load())
}

func TestBuild_Cancelled(t *testing.T) {
	f := setupBuild(t, siteFiles, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.builder.Build(ctx, f.site)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Rendered)
}

// Content shortcodes run during the first pass and may read every page. They
// must see the pages as loaded, never a body another worker is storing. Run
// with -race.
func TestBuild_ShortcodesReadOtherPages(t *testing.T) {
	const posts = 40
	files := map[string]string{
		"site/layouts/shortcodes/recent.md": "{{ for p in site.pages }}len={{ len p.content }} {{ end }}",
	}
	for i := range posts {
		files[fmt.Sprintf("site/content/posts/p%02d.md", i)] = fmt.Sprintf("---\ntitle: Post %d\n---\nPost %d body.\n\n{%% recent %%}\n", i, i)
	}
	f := setupBuild(t, files, nil)

	report, err := f.builder.Build(context.Background(), f.site)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, uint64(posts), report.Expansions)

	out := f.read(t, "posts/p07/index.html")
	assert.Equal(t, posts, strings.Count(out, "len=0 "), "bodies are stored after the first pass")
	require.Len(t, f.site.Regular, posts)
	for _, p := range f.site.Regular {
		assert.Contains(t, p.Content, "<p>Post ", p.URL)
		assert.Positive(t, p.WordCount, p.URL)
	}
}

func TestBuild_History(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, buildlog.SetupSchema(db))
	store, err := buildlog.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	f := setupBuild(t, siteFiles, nil)
	f.builder.SetRecorder(store)
	f.builder.SetVersion("v0.3.0")

	ctx := context.Background()
	report, err := f.builder.Build(ctx, f.site)
	require.NoError(t, err)
	require.Positive(t, report.BuildID)

	builds, err := store.RecentBuilds(ctx, 5)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, buildlog.StatusSucceeded, builds[0].Status)
	assert.Equal(t, "v0.3.0", builds[0].Version)
	assert.Equal(t, 11, builds[0].Rendered)

	history, err := store.PageHistory(ctx, "/posts/hello/", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "page.html", history[0].Template)
	assert.Equal(t, string(templating.OriginBuiltin), history[0].Origin)
	assert.Positive(t, history[0].Bytes)

	history, err = store.PageHistory(ctx, "/", 10)
	require.NoError(t, err)
	assert.Len(t, history, 3, "one render per home output format")
}

func TestBuild_AtomicWritesToDisk(t *testing.T) {
	f := setupBuild(t, siteFiles, nil)
	dir := t.TempDir()
	f.config.OutputDir = filepath.Join(dir, "public")
	f.config.CleanOutput = true
	f.builder.out = afero.NewOsFs()

	stale := filepath.Join(f.config.OutputDir, "stale.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := f.builder.Build(context.Background(), f.site)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.config.OutputDir, "posts", "hello", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello World")
	_, err = os.Stat(stale)
	assert.True(t, errors.Is(err, os.ErrNotExist), "clean_output removes old files")
}
