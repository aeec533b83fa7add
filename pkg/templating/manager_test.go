package templating

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// mapLoader serves templates from memory.
type mapLoader struct {
	mu    sync.Mutex
	site  map[string]string
	theme map[string]string
}

func (l *mapLoader) ReadTemplate(layer Layer, name string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.site
	if layer == LayerTheme {
		m = l.theme
	}
	if text, ok := m[name]; ok {
		return text, nil
	}
	return "", fs.ErrNotExist
}

func (l *mapLoader) set(layer Layer, name, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if layer == LayerTheme {
		l.theme[name] = text
	} else {
		l.site[name] = text
	}
}

// testProps is the simplest PropertyExposer.
type testProps map[string]any

func (p testProps) Properties() map[string]any { return p }

func newLoader() *mapLoader {
	return &mapLoader{site: map[string]string{}, theme: map[string]string{}}
}

// setupTestManager creates a TemplateManager for a single test's scope.
func setupTestManager(tb testing.TB, loader Loader, mutate func(*TemplateConfig)) *TemplateManager {
	tb.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	config := DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}
	tm, err := NewTemplateManager(logger, loader, &config)
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return tm
}

func testContext() *Context {
	site := testProps{
		"title":    "Sundew",
		"language": "en",
		"build_config": map[string]any{
			"max_workers": 4,
		},
		"params": map[string]any{"b": int64(2), "a": int64(1)},
		"pages": []any{
			testProps{"title": "First", "weight": int64(2)},
			testProps{"title": "Second", "weight": int64(1)},
		},
	}
	page := testProps{
		"title": "Hello",
		"kind":  "page",
		"tags":  []any{"a", "b"},
		"draft": false,
	}
	return NewContext(site, page)
}

func TestRender(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	ctx := testContext()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Identity", "Hello, world! <b>no tags</b>", "Hello, world! <b>no tags</b>"},
		{"MissingPath", "a{{ missing.path }}b", "ab"},
		{"MissingNested", "[{{ site.nope.deeper.still }}]", "[]"},
		{"Add", "{{ add 2 3 }}", "5"},
		{"UpperLiteral", `{{ upper "hello" }}`, "HELLO"},
		{"ParenCall", `{{ upper("hello") }}`, "HELLO"},
		{"NestedParenCalls", `{{ upper(replace("a", "b", "banana")) }}`, "BBNBNB"},
		{"NestedBare", "{{ add (mul 2 3) 4 }}", "10"},
		{"Pipe", "{{ site.title | upper }}", "SUNDEW"},
		{"PipeWithArgs", `{{ "Hello wonderful world" | truncate 10 }}`, "Hello…"},
		{"PipeChain", `{{ page.title | lower | replace "l" "L" }}`, "heLLo"},
		{"NormalizedPath", "{{ site.buildConfig.maxWorkers }}", "4"},
		{"ExactPath", "{{ site.build_config.max_workers }}", "4"},
		{"IndexedPath", "{{ site.pages.1.title }}", "Second"},
		{"ListOutput", "{{ page.tags }}", "a, b"},
		{"SingleQuotes", `{{ 'it\'s' }}`, "it's"},
		{"RawString", "{{ `a\\nb` }}", `a\nb`},
		{"Float", "{{ 3.5 }}", "3.5"},
		{"Negative", "{{ -2 }}", "-2"},
		{"Bools", "{{ true }}/{{ false }}/{{ nil }}", "true/false/"},
		{"If", "{{ if page.tags }}yes{{ end }}", "yes"},
		{"ElseIf", "{{ if page.draft }}draft{{ else if page.tags }}tagged{{ else }}plain{{ end }}", "tagged"},
		{"Else", "{{ if page.missing }}x{{ else }}y{{ end }}", "y"},
		{"IfCall", `{{ if eq page.kind "page" }}single{{ end }}`, "single"},
		{"ForIndex", "{{ for i, t in page.tags }}{{ i }}={{ t }};{{ end }}", "0=a;1=b;"},
		{"Range", "{{ range t in page.tags }}<{{ t }}>{{ end }}", "<a><b>"},
		{"RangeThis", "{{ range page.tags }}{{ this }}{{ end }}", "ab"},
		{"ForEmpty", "{{ for t in page.none }}x{{ else }}empty{{ end }}", "empty"},
		{"ForMapSorted", "{{ for k, v in site.params }}{{ k }}:{{ v }} {{ end }}", "a:1 b:2 "},
		{"LoopMeta", "{{ for t in page.tags }}{{ t }}{{ if not loop.last }},{{ end }}{{ end }}", "a,b"},
		{"LoopNumber", "{{ for t in page.tags }}{{ loop.number }}/{{ loop.length }} {{ end }}", "1/2 2/2 "},
		{"ForPipeSource", `{{ for p in site.pages | sortBy "weight" }}{{ p.title }} {{ end }}`, "Second First "},
		{"TrimMarkers", "a  {{- \"b\" -}}  c", "abc"},
		{"Comment", "x{{/* ignored */}}y", "xy"},
		{"UnclosedIsLiteral", "a {{ b", "a {{ b"},
		{"NearestClose", `{{ "x" }}}`, "x}"},
		{"StrayEnd", "a{{ end }}b", "ab"},
		{"StrayElse", "a{{ else }}b", "ab"},
		{"MissingEnd", "{{ if true }}yes", "yes"},
		{"Malformed", "[{{ add( }}]", "[]"},
		{"UnknownFunction", "[{{ nosuch 1 2 }}]", "[]"},
		{"UnknownPipeTarget", `[{{ "a" | nosuch }}]`, "[]"},
		{"DeepNesting", "{{ " + strings.Repeat("(", 70) + "1" + strings.Repeat(")", 70) + " }}", ""},
		{"ModerateNesting", "{{ " + strings.Repeat("(", 10) + "1" + strings.Repeat(")", 10) + " }}", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tm.RenderString(tt.in, ctx)
			if err != nil {
				t.Fatalf("RenderString(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("RenderString(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRender_ZeroArgFunctions(t *testing.T) {
	tm := setupTestManager(t, nil, nil)

	got, err := tm.RenderString("{{ uuid }}", testContext())
	if err != nil {
		t.Fatalf("RenderString failed: %v", err)
	}
	if len(got) != 36 {
		t.Errorf("expected a uuid, got %q", got)
	}

	// A bound variable always wins over a zero-argument function.
	got, err = tm.RenderString("{{ now }}", testContext().With("now", "bound"))
	if err != nil {
		t.Fatalf("RenderString failed: %v", err)
	}
	if got != "bound" {
		t.Errorf("expected the bound variable, got %q", got)
	}
}

func TestRender_ArgumentErrorsPropagate(t *testing.T) {
	tm := setupTestManager(t, nil, nil)

	_, err := tm.RenderString("before {{ div 5 0 }} after", testContext())
	if err == nil {
		t.Fatal("expected an error for division by zero")
	}
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected *ArgumentError, got %T", err)
	}
	if argErr.Func != "div" {
		t.Errorf("expected Func to be div, got %q", argErr.Func)
	}
	if !errors.Is(err, ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
	if !strings.Contains(err.Error(), "divide by zero") {
		t.Errorf("unexpected message %q", err.Error())
	}

	_, err = tm.RenderString("{{ upper() }}", testContext())
	if !errors.Is(err, ErrArity) {
		t.Errorf("expected ErrArity for upper without arguments, got %v", err)
	}

	// Without parentheses a bare name that needs arguments is just a path.
	out, err := tm.RenderString("[{{ upper }}]", testContext())
	if err != nil || out != "[]" {
		t.Errorf("bare upper = %q, %v", out, err)
	}
}

func TestRender_StrictMode(t *testing.T) {
	tm := setupTestManager(t, nil, func(c *TemplateConfig) { c.StrictMode = true })
	src := TemplateSource{Name: "strict.html", Text: "{{ missing }}{{ nosuch 1 }}{{ end }}"}

	res, err := tm.RenderResult(src, testContext())
	if err != nil {
		t.Fatalf("RenderResult failed: %v", err)
	}
	if res.Output != "" {
		t.Errorf("expected empty output, got %q", res.Output)
	}
	if len(res.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(res.Warnings), res.Warnings)
	}
	for i, want := range []string{"stray end", "unresolved path", "unknown function"} {
		if !strings.Contains(res.Warnings[i], want) {
			t.Errorf("warning %d = %q, want it to mention %q", i, res.Warnings[i], want)
		}
	}

	lenient := setupTestManager(t, nil, nil)
	res, err = lenient.RenderResult(src, testContext())
	if err != nil {
		t.Fatalf("RenderResult failed: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings outside strict mode, got %v", res.Warnings)
	}
}

func TestManager_Refresh(t *testing.T) {
	loader := newLoader()
	loader.set(LayerSite, "_default/single.html", "old {{ page.title }}")
	tm := setupTestManager(t, loader, nil)
	ctx := testContext()

	src := tm.Resolve(KindPage, "", FormatHTML)
	if out, _ := tm.Render(src, ctx); out != "old Hello" {
		t.Fatalf("unexpected initial render %q", out)
	}

	loader.set(LayerSite, "_default/single.html", "new {{ page.title }}")
	if src = tm.Resolve(KindPage, "", FormatHTML); src.Text != "old {{ page.title }}" {
		t.Error("resolution should be cached until Refresh")
	}

	tm.Refresh()
	src = tm.Resolve(KindPage, "", FormatHTML)
	if out, _ := tm.Render(src, ctx); out != "new Hello" {
		t.Errorf("expected refreshed template output, got %q", out)
	}
}

func TestManager_SameNameDifferentText(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	ctx := testContext()
	first := TemplateSource{Name: "card.html", Origin: OriginSite, Text: "one {{ page.title }}"}
	second := TemplateSource{Name: "card.html", Origin: OriginSite, Text: "two {{ page.title }}"}

	if out, _ := tm.Render(first, ctx); out != "one Hello" {
		t.Fatalf("unexpected first render %q", out)
	}
	if out, _ := tm.Render(second, ctx); out != "two Hello" {
		t.Errorf("same name with new text rendered %q", out)
	}
	if out, _ := tm.Render(first, ctx); out != "one Hello" {
		t.Errorf("first source rendered %q after second", out)
	}
}

func TestManager_Execute(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	var buf bytes.Buffer
	src := TemplateSource{Name: "exec.html", Text: "<p>{{ page.title }}</p>"}
	if err := tm.Execute(&buf, src, testContext()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if buf.String() != "<p>Hello</p>" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestManager_BuiltinLayouts(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	page := testProps{
		"title":     "A <Post>",
		"kind":      "page",
		"content":   "<p>Body</p>",
		"permalink": "https://example.com/post/",
		"tags":      []any{"Go"},
	}
	ctx := NewContext(testContext().Site(), page)

	out, err := tm.Render(tm.Resolve(KindPage, "posts", FormatHTML), ctx)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"<!DOCTYPE html>", "<h1>A &lt;Post&gt;</h1>", "<p>Body</p>", `href="/tags/go/"`, `<html lang="en">`} {
		if !strings.Contains(out, want) {
			t.Errorf("builtin page output missing %q:\n%s", want, out)
		}
	}
}

func TestManager_ConcurrentRender(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	src := TemplateSource{Name: "concurrent.html", Text: "{{ for p in site.pages }}{{ p.title | upper }}{{ end }}"}
	ctx := testContext()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := tm.Render(src, ctx)
			if err != nil || out != "FIRSTSECOND" {
				t.Errorf("concurrent render = %q, %v", out, err)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkRender(b *testing.B) {
	tm := setupTestManager(b, nil, nil)
	src := TemplateSource{
		Name: "bench.html",
		Text: `<h1>{{ page.title | upper }}</h1>{{ for i, t in page.tags }}<span>{{ i }} {{ t | slugify }}</span>{{ end }}`,
	}
	ctx := testContext()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tm.Render(src, ctx); err != nil {
			b.Fatal(err)
		}
	}
}
