// Package theme reads site and theme files from a layered filesystem.
package theme

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Options locates the site's own directories and the active theme.
type Options struct {
	// LayoutsDir holds the site's templates. They override the theme's.
	LayoutsDir string
	// StaticDir holds files copied verbatim into the output.
	StaticDir string
	// ThemeDir is the root of the active theme (containing layouts/, static/
	// and an optional theme.yaml). Empty means no theme.
	ThemeDir string
}

// Meta is read from theme.yaml at the theme root.
type Meta struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Author      string         `yaml:"author"`
	License     string         `yaml:"license"`
	Params      map[string]any `yaml:"params"`
}

// FS serves templates and static files for one site. It implements
// templating.Loader and is safe for concurrent reads.
type FS struct {
	logger *slog.Logger
	fs     afero.Fs
	opts   Options
	meta   Meta
}

// Open checks that the theme exists and loads its metadata.
func Open(logger *slog.Logger, fsys afero.Fs, opts Options) (*FS, error) {
	t := &FS{logger: logger, fs: fsys, opts: opts}
	if opts.ThemeDir == "" {
		return t, nil
	}
	isDir, err := afero.IsDir(fsys, opts.ThemeDir)
	if err != nil || !isDir {
		return nil, fmt.Errorf("theme directory %s not found", opts.ThemeDir)
	}

	data, err := afero.ReadFile(fsys, path.Join(opts.ThemeDir, "theme.yaml"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		t.meta.Name = path.Base(opts.ThemeDir)
	case err != nil:
		return nil, fmt.Errorf("failed to read theme metadata: %w", err)
	default:
		if err := yaml.Unmarshal(data, &t.meta); err != nil {
			return nil, fmt.Errorf("failed to parse theme.yaml: %w", err)
		}
		if t.meta.Name == "" {
			t.meta.Name = path.Base(opts.ThemeDir)
		}
	}
	logger.Info("Theme loaded", "theme", t.meta.Name, "dir", opts.ThemeDir)
	return t, nil
}

// Meta returns the theme metadata. It is zero when no theme is configured.
func (t *FS) Meta() Meta {
	return t.meta
}

func (t *FS) layerDir(layer templating.Layer) string {
	if layer == templating.LayerSite {
		return t.opts.LayoutsDir
	}
	if t.opts.ThemeDir == "" {
		return ""
	}
	return path.Join(t.opts.ThemeDir, "layouts")
}

// ReadTemplate implements templating.Loader.
func (t *FS) ReadTemplate(layer templating.Layer, name string) (string, error) {
	dir := t.layerDir(layer)
	if dir == "" {
		return "", fs.ErrNotExist
	}
	clean := path.Clean("/" + name)
	if clean != "/"+name || strings.Contains(name, "\\") {
		return "", fmt.Errorf("invalid template name %q: %w", name, fs.ErrNotExist)
	}
	data, err := afero.ReadFile(t.fs, path.Join(dir, clean))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CopyStatic copies the theme's static files, then the site's, into outDir
// on dst. Site files replace theme files with the same path. It returns the
// number of files written.
func (t *FS) CopyStatic(dst afero.Fs, outDir string) (int, error) {
	var dirs []string
	if t.opts.ThemeDir != "" {
		dirs = append(dirs, path.Join(t.opts.ThemeDir, "static"))
	}
	if t.opts.StaticDir != "" {
		dirs = append(dirs, t.opts.StaticDir)
	}

	copied := 0
	for _, dir := range dirs {
		if ok, _ := afero.DirExists(t.fs, dir); !ok {
			continue
		}
		err := afero.Walk(t.fs, dir, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(t.fs, p)
			if err != nil {
				return err
			}
			target := filepath.Join(outDir, rel)
			if err := dst.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := afero.WriteFile(dst, target, data, 0o644); err != nil {
				return err
			}
			copied++
			return nil
		})
		if err != nil {
			return copied, fmt.Errorf("failed to copy static files from %s: %w", dir, err)
		}
	}
	t.logger.Debug("Static files copied", "count", copied, "output", outDir)
	return copied, nil
}
