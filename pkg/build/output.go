package build

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Sundew/pkg/content"
	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
)

// OutputPath returns the file, relative to the output directory, that a
// page is written to in format f. Directory URLs get an index file; URLs
// naming a file keep it for HTML and swap the extension otherwise.
func OutputPath(p *content.Page, f templating.Format) string {
	u := p.URL
	if u == "" {
		u = "/"
	}
	if strings.HasSuffix(u, "/") {
		return strings.TrimPrefix(u, "/") + "index." + f.Ext
	}
	ext := path.Ext(u)
	if f == templating.FormatHTML && ext != "" {
		return strings.TrimPrefix(u, "/")
	}
	return strings.TrimPrefix(strings.TrimSuffix(u, ext), "/") + "." + f.Ext
}

// writeFile creates the parent directories of name and writes data. On the
// OS filesystem the write is atomic, so readers never see a partial page.
func writeFile(fsys afero.Fs, name string, data []byte) error {
	if err := fsys.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if _, ok := fsys.(*afero.OsFs); ok {
		return atomic.WriteFile(name, bytes.NewReader(data))
	}
	return afero.WriteFile(fsys, name, data, 0o644)
}
