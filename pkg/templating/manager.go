package templating

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Result is the output of one render along with the degradations recorded
// while producing it. Warnings are only collected in strict mode.
type Result struct {
	Output   string
	Warnings []string
}

// TemplateManager is the central controller for the templating engine.
// It owns the function registry, the template resolver and the cache of
// parsed templates, and evaluates templates against a Context.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger   *slog.Logger
	config   *TemplateConfig
	registry *Registry
	resolver *Resolver
	trees    sync.Map // TemplateSource key -> *tree
	mu       sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// The loader supplies site and theme templates and may be nil. The config is
// read-only after construction.
func NewTemplateManager(logger *slog.Logger, loader Loader, config *TemplateConfig) (*TemplateManager, error) {
	resolver, err := NewResolver(logger, loader)
	if err != nil {
		return nil, err
	}
	tm := &TemplateManager{
		logger:   logger,
		config:   config,
		registry: NewRegistry(logger, config),
		resolver: resolver,
	}
	logger.Info("Template manager initialized",
		"functions", len(tm.registry.FunctionList()),
		"cache_capacity", config.CacheCapacity,
		"strict", config.StrictMode)
	return tm, nil
}

// Refresh drops cached template lookups and parsed templates so edited files
// are picked up by the next build. Memoized function results are kept since
// they do not depend on templates.
func (tm *TemplateManager) Refresh() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.resolver.Reset()
	tm.trees.Clear()
	tm.logger.Debug("Template caches cleared")
}

// Registry returns the function registry.
func (tm *TemplateManager) Registry() *Registry {
	return tm.registry
}

// Resolver returns the template resolver.
func (tm *TemplateManager) Resolver() *Resolver {
	return tm.resolver
}

// Resolve is shorthand for Resolver().Resolve.
func (tm *TemplateManager) Resolve(kind Kind, section string, format Format) TemplateSource {
	return tm.resolver.Resolve(kind, section, format)
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// tree returns the parsed form of src, parsing it once per Refresh.
func (tm *TemplateManager) tree(src TemplateSource) *tree {
	if src.Name == "" {
		return parseTemplate("inline", src.Text)
	}
	key := src.key()
	if t, ok := tm.trees.Load(key); ok {
		return t.(*tree)
	}
	t, _ := tm.trees.LoadOrStore(key, parseTemplate(src.Name, src.Text))
	return t.(*tree)
}

// RenderResult evaluates src against ctx. Missing data and malformed
// expressions degrade to empty output; only function argument errors are
// returned.
func (tm *TemplateManager) RenderResult(src TemplateSource, ctx *Context) (Result, error) {
	if !strings.Contains(src.Text, "{{") {
		return Result{Output: src.Text}, nil
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	name := src.Name
	if name == "" {
		name = "inline"
	}
	var warnings []string
	s := &renderState{tm: tm, name: name, warnings: &warnings}
	var b strings.Builder
	b.Grow(len(src.Text))
	if err := s.execute(&b, tm.tree(src), ctx); err != nil {
		return Result{Warnings: warnings}, fmt.Errorf("render %s: %w", name, err)
	}
	return Result{Output: b.String(), Warnings: warnings}, nil
}

// Render evaluates src against ctx and returns the output text.
func (tm *TemplateManager) Render(src TemplateSource, ctx *Context) (string, error) {
	res, err := tm.RenderResult(src, ctx)
	return res.Output, err
}

// RenderString parses and evaluates a raw template string. The parsed form is
// not cached.
func (tm *TemplateManager) RenderString(text string, ctx *Context) (string, error) {
	return tm.Render(TemplateSource{Text: text}, ctx)
}

// Execute renders src and writes the output to w.
func (tm *TemplateManager) Execute(w io.Writer, src TemplateSource, ctx *Context) error {
	out, err := tm.Render(src, ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
