// Package markdown converts page content to HTML with goldmark.
package markdown

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Config selects the goldmark extensions and renderer options. Typographic
// substitutions are never enabled: shortcode arguments that survive into the
// HTML phase must keep their ASCII quotes.
type Config struct {
	// Unsafe passes raw HTML through. Content shortcodes that produce HTML
	// and protected HTML shortcode markers both rely on it.
	Unsafe bool `json:"unsafe"`
	// HardWraps renders soft line breaks as <br>.
	HardWraps bool `json:"hard_wraps"`
	// XHTML renders self-closing void elements.
	XHTML bool `json:"xhtml"`
	// GFM enables tables, strikethrough, autolinks and task lists.
	GFM bool `json:"gfm"`
	// Footnotes enables [^ref] footnotes.
	Footnotes bool `json:"footnotes"`
	// CJK improves line breaking for Chinese, Japanese and Korean text.
	CJK bool `json:"cjk"`
	// AutoHeadingID gives every heading an id derived from its text.
	AutoHeadingID bool `json:"auto_heading_id"`
	// Attributes allows {#id .class} after headings.
	Attributes bool `json:"attributes"`
}

// DefaultConfig returns the options used when a site does not override them.
func DefaultConfig() Config {
	return Config{
		Unsafe:        true,
		GFM:           true,
		Footnotes:     true,
		AutoHeadingID: true,
		Attributes:    true,
	}
}

// Converter renders Markdown to HTML. It is safe for concurrent use.
type Converter struct {
	logger *slog.Logger
	config Config
	md     goldmark.Markdown
}

// NewConverter builds a goldmark instance for config.
func NewConverter(logger *slog.Logger, config Config) *Converter {
	var parserOpts []parser.Option
	if config.AutoHeadingID {
		parserOpts = append(parserOpts, parser.WithAutoHeadingID())
	}
	if config.Attributes {
		parserOpts = append(parserOpts, parser.WithAttribute())
	}

	var extensions []goldmark.Extender
	if config.GFM {
		extensions = append(extensions, extension.GFM)
	}
	if config.Footnotes {
		extensions = append(extensions, extension.Footnote)
	}
	if config.CJK {
		extensions = append(extensions, extension.CJK)
	}

	var rendererOpts []renderer.Option
	if config.HardWraps {
		rendererOpts = append(rendererOpts, goldmarkhtml.WithHardWraps())
	}
	if config.XHTML {
		rendererOpts = append(rendererOpts, goldmarkhtml.WithXHTML())
	}
	if config.Unsafe {
		rendererOpts = append(rendererOpts, goldmarkhtml.WithUnsafe())
	}

	logger.Debug("Markdown converter initialized",
		"gfm", config.GFM,
		"footnotes", config.Footnotes,
		"unsafe", config.Unsafe)
	return &Converter{logger: logger, config: config, md: goldmark.New(
		goldmark.WithParserOptions(parserOpts...),
		goldmark.WithExtensions(extensions...),
		goldmark.WithRendererOptions(rendererOpts...),
	)}
}

// Config returns the options the converter was built with.
func (c *Converter) Config() Config {
	return c.config
}

// Convert renders src and returns the HTML.
func (c *Converter) Convert(src string) (string, error) {
	var buf bytes.Buffer
	buf.Grow(len(src) + len(src)/4)
	if err := c.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}
