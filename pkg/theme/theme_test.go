package theme

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFiles(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}
}

func setupTheme(t *testing.T) (*FS, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"site/layouts/_default/single.html":      "site single",
		"site/layouts/partials/head.html":        "site head",
		"site/static/css/site.css":               "body{}",
		"site/static/logo.svg":                   "<svg>site</svg>",
		"themes/fern/theme.yaml":                 "name: Fern\nauthor: Jo\nparams:\n  accent: green\n",
		"themes/fern/layouts/_default/list.html": "theme list",
		"themes/fern/layouts/partials/head.html": "theme head",
		"themes/fern/static/logo.svg":            "<svg>theme</svg>",
		"themes/fern/static/js/app.js":           "app()",
	})
	th, err := Open(testLogger(), fsys, Options{
		LayoutsDir: "site/layouts",
		StaticDir:  "site/static",
		ThemeDir:   "themes/fern",
	})
	require.NoError(t, err)
	return th, fsys
}

func TestOpen_Meta(t *testing.T) {
	th, _ := setupTheme(t)

	meta := th.Meta()
	assert.Equal(t, "Fern", meta.Name)
	assert.Equal(t, "Jo", meta.Author)
	assert.Equal(t, "green", meta.Params["accent"])
}

func TestOpen_Errors(t *testing.T) {
	fsys := afero.NewMemMapFs()

	_, err := Open(testLogger(), fsys, Options{ThemeDir: "themes/missing"})
	assert.Error(t, err)

	writeFiles(t, fsys, map[string]string{"themes/bad/theme.yaml": "name: [unclosed"})
	_, err = Open(testLogger(), fsys, Options{ThemeDir: "themes/bad"})
	assert.ErrorContains(t, err, "theme.yaml")

	writeFiles(t, fsys, map[string]string{"themes/plain/layouts/x.html": "x"})
	th, err := Open(testLogger(), fsys, Options{ThemeDir: "themes/plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain", th.Meta().Name, "name defaults to the directory")

	th, err = Open(testLogger(), fsys, Options{LayoutsDir: "layouts"})
	require.NoError(t, err)
	_, err = th.ReadTemplate(templating.LayerTheme, "x.html")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReadTemplate(t *testing.T) {
	th, _ := setupTheme(t)

	text, err := th.ReadTemplate(templating.LayerSite, "_default/single.html")
	require.NoError(t, err)
	assert.Equal(t, "site single", text)

	text, err = th.ReadTemplate(templating.LayerTheme, "_default/list.html")
	require.NoError(t, err)
	assert.Equal(t, "theme list", text)

	_, err = th.ReadTemplate(templating.LayerSite, "_default/list.html")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = th.ReadTemplate(templating.LayerSite, "../../themes/fern/theme.yaml")
	assert.ErrorIs(t, err, fs.ErrNotExist, "names may not escape the layer")
}

func TestLoaderWithResolver(t *testing.T) {
	th, _ := setupTheme(t)
	r, err := templating.NewResolver(testLogger(), th)
	require.NoError(t, err)

	src := r.Resolve(templating.KindPage, "", templating.FormatHTML)
	assert.Equal(t, templating.OriginSite, src.Origin)

	src = r.Resolve(templating.KindSection, "posts", templating.FormatHTML)
	assert.Equal(t, templating.OriginTheme, src.Origin)
	assert.Equal(t, "theme list", src.Text)

	partial, ok := r.Partial("head")
	require.True(t, ok)
	assert.Equal(t, "site head", partial.Text)
}

func TestCopyStatic(t *testing.T) {
	th, _ := setupTheme(t)
	out := afero.NewMemMapFs()

	n, err := th.CopyStatic(out, "public")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "theme files are copied, then site files")

	logo, err := afero.ReadFile(out, filepath.Join("public", "logo.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg>site</svg>", string(logo), "site static files win")

	js, err := afero.ReadFile(out, filepath.Join("public", "js", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "app()", string(js))

	exists, err := afero.Exists(out, filepath.Join("public", "css", "site.css"))
	require.NoError(t, err)
	assert.True(t, exists)
}
