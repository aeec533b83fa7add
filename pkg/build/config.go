package build

import (
	"fmt"
	"path/filepath"

	"github.com/CTAG07/Sundew/pkg/templating"
)

// Config holds the settings for a build.
type Config struct {
	SourceDir     string              `json:"source_dir" validate:"required"`
	ContentDir    string              `json:"content_dir" validate:"required"`
	LayoutsDir    string              `json:"layouts_dir"`
	StaticDir     string              `json:"static_dir"`
	ThemesDir     string              `json:"themes_dir"`
	OutputDir     string              `json:"output_dir" validate:"required"`
	Workers       int                 `json:"workers" validate:"min=1,max=256"`
	LogLevel      string              `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string              `json:"log_format" validate:"oneof=text json"`
	BuildLogPath  string              `json:"build_log_path"`
	HistoryLimit  int                 `json:"history_limit" validate:"min=0"`
	AbortOnError  bool                `json:"abort_on_error"`
	IncludeDrafts bool                `json:"include_drafts"`
	CleanOutput   bool                `json:"clean_output"`
	Outputs       map[string][]string `json:"outputs" validate:"dive,dive,oneof=html json rss plain"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		SourceDir:    ".",
		ContentDir:   "content",
		LayoutsDir:   "layouts",
		StaticDir:    "static",
		ThemesDir:    "themes",
		OutputDir:    "public",
		Workers:      4,
		LogLevel:     "info",
		LogFormat:    "text",
		BuildLogPath: "./data/sundew_history.db?_journal_mode=WAL&_busy_timeout=5000",
		HistoryLimit: 50,
		Outputs:      DefaultOutputs(),
	}
}

// DefaultOutputs lists the formats rendered for each page kind.
func DefaultOutputs() map[string][]string {
	return map[string][]string{
		string(templating.KindHome):     {"html", "rss", "json"},
		string(templating.KindSection):  {"html", "rss"},
		string(templating.KindTerm):     {"html", "rss"},
		string(templating.KindTaxonomy): {"html"},
		string(templating.KindPage):     {"html"},
		string(templating.Kind404):      {"html"},
	}
}

// Path resolves a site-relative directory against SourceDir.
func (c *Config) Path(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.SourceDir, dir)
}

// formats returns the output formats for a page kind, or for the page's own
// list when it names one. Unknown names are reported and dropped.
func (c *Config) formats(kind templating.Kind, override []string) ([]templating.Format, error) {
	names := override
	if len(names) == 0 {
		names = c.Outputs[string(kind)]
	}
	if len(names) == 0 {
		names = DefaultOutputs()[string(kind)]
	}
	if len(names) == 0 {
		names = []string{templating.FormatHTML.Name}
	}
	out := make([]templating.Format, 0, len(names))
	for _, name := range names {
		f, ok := templating.FormatByName(name)
		if !ok {
			return out, fmt.Errorf("unknown output format %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}
