// Package build renders a loaded site to an output directory.
//
// A build runs in two passes over every page. The first pass expands
// shortcodes and converts Markdown into a buffer owned by the build; the
// bodies are stored on the pages only once every worker has finished. The
// second pass renders each page's templates in every output format it has.
// Pages are never written while a worker can read them.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/CTAG07/Sundew/pkg/buildlog"
	"github.com/CTAG07/Sundew/pkg/content"
	"github.com/CTAG07/Sundew/pkg/shortcode"
	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Recorder stores build history. buildlog.Store implements it.
type Recorder interface {
	BeginBuild(ctx context.Context, version string, startedAt time.Time) (int64, error)
	RecordRender(ctx context.Context, r buildlog.Render) error
	FinishBuild(ctx context.Context, id int64, sum buildlog.Summary) error
}

// StaticCopier copies static files into the output. theme.FS implements it.
type StaticCopier interface {
	CopyStatic(dst afero.Fs, outDir string) (int, error)
}

// Converter turns Markdown into HTML.
type Converter interface {
	Convert(src string) (string, error)
}

// PageError is a failure attributed to one page.
type PageError struct {
	URL    string
	Format string
	Err    error
}

func (e *PageError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("%s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.URL, e.Format, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Report summarizes a finished build.
type Report struct {
	BuildID     int64
	Pages       int
	Rendered    int
	Skipped     int
	Warnings    int
	Static      int
	Errors      []error
	Cache       templating.CacheStats
	Expansions  uint64
	Diagnostics uint64
	Duration    time.Duration
}

// Builder drives builds. A Builder may run several builds, one at a time.
type Builder struct {
	logger     *slog.Logger
	config     *Config
	tm         *templating.TemplateManager
	shortcodes *shortcode.Pipeline
	markdown   Converter
	out        afero.Fs
	static     StaticCopier
	recorder   Recorder
	version    string

	mu sync.Mutex
}

// NewBuilder creates a Builder writing to out under config.OutputDir.
func NewBuilder(logger *slog.Logger, config *Config, tm *templating.TemplateManager, sc *shortcode.Pipeline, md Converter, out afero.Fs) *Builder {
	return &Builder{
		logger:     logger,
		config:     config,
		tm:         tm,
		shortcodes: sc,
		markdown:   md,
		out:        out,
		version:    "dev",
	}
}

// SetRecorder enables build history.
func (b *Builder) SetRecorder(r Recorder) {
	b.recorder = r
}

// SetStatic sets the source of static files copied after rendering.
func (b *Builder) SetStatic(s StaticCopier) {
	b.static = s
}

// SetVersion sets the version recorded with each build.
func (b *Builder) SetVersion(v string) {
	b.version = v
}

// run collects the state of one build.
type run struct {
	*Builder
	site    *content.Site
	buildID int64
	failed  []bool
	bodies  []string

	mu     sync.Mutex
	report Report
}

// Build renders site. With AbortOnError unset, pages whose rendering fails
// are skipped and reported; otherwise the first failure stops the build. A
// cancelled ctx stops the build between pages.
func (b *Builder) Build(ctx context.Context, site *content.Site) (*Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	if site.Build.StartedAt.IsZero() {
		site.Build.StartedAt = start
	}
	site.Build.Workers = b.config.Workers
	site.Build.Version = b.version

	pages := site.All()
	r := &run{Builder: b, site: site, failed: make([]bool, len(pages)), bodies: make([]string, len(pages))}
	r.report.Pages = len(pages)
	r.report.Errors = append(r.report.Errors, site.Problems...)

	b.tm.Refresh()
	r.begin(ctx, start)
	b.logger.Info("Build started", "pages", len(pages), "workers", b.config.Workers, "output", b.config.OutputDir)

	if b.config.CleanOutput {
		if err := b.out.RemoveAll(b.config.OutputDir); err != nil {
			return r.finish(ctx, start, fmt.Errorf("failed to clean output directory: %w", err))
		}
	}

	if err := r.pass(ctx, pages, r.convert); err != nil {
		return r.finish(ctx, start, err)
	}
	for i, page := range pages {
		if !r.failed[i] {
			page.SetContent(r.bodies[i])
		}
	}
	if err := r.pass(ctx, pages, r.render); err != nil {
		return r.finish(ctx, start, err)
	}

	if b.static != nil {
		n, err := b.static.CopyStatic(b.out, b.config.OutputDir)
		if err != nil {
			return r.finish(ctx, start, err)
		}
		r.report.Static = n
	}
	return r.finish(ctx, start, nil)
}

// pass runs fn for every page not yet failed on a bounded worker pool.
func (r *run) pass(ctx context.Context, pages []*content.Page, fn func(context.Context, int, *content.Page) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, page := range pages {
		if r.failed[i] {
			continue
		}
		g.Go(func() (err error) {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Recovered from panic while building page", "url", page.URL, "panic", rec, "stack", string(debug.Stack()))
					err = r.pageFailed(i, &PageError{URL: page.URL, Err: fmt.Errorf("panic: %v", rec)})
				}
			}()
			if err := fn(gctx, i, page); err != nil {
				return r.pageFailed(i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// pageFailed records a page error. It returns the error when the build
// should stop.
func (r *run) pageFailed(i int, err error) error {
	r.failed[i] = true
	r.mu.Lock()
	r.report.Errors = append(r.report.Errors, err)
	r.report.Skipped++
	r.mu.Unlock()
	if r.config.AbortOnError {
		return err
	}
	r.logger.Error("Skipping page", "error", err)
	return nil
}

// convert is the first pass: shortcodes and Markdown. The result goes to
// r.bodies[i] since other pages' shortcodes may be reading page i.
func (r *run) convert(_ context.Context, i int, page *content.Page) error {
	tctx := templating.NewContext(r.site, page)
	expanded := r.shortcodes.ExpandContent(page.Body, tctx)
	converted, err := r.markdown.Convert(expanded)
	if err != nil {
		return &PageError{URL: page.URL, Err: err}
	}
	r.bodies[i] = r.shortcodes.ExpandHTML(converted, tctx)
	return nil
}

// render is the second pass: templates for each output format.
func (r *run) render(ctx context.Context, _ int, page *content.Page) error {
	formats, err := r.config.formats(page.Kind, page.Outputs)
	if err != nil {
		r.logger.Warn("Ignoring output format", "url", page.URL, "error", err)
		r.addWarnings(1)
	}
	tctx := templating.NewContext(r.site, page)
	for _, f := range formats {
		if err := r.renderFormat(ctx, page, tctx.With("format", f.Name), f); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) renderFormat(ctx context.Context, page *content.Page, tctx *templating.Context, f templating.Format) error {
	started := time.Now()
	src := r.tm.Resolve(page.Kind, page.Section, f)
	rec := buildlog.Render{
		BuildID:  r.buildID,
		URL:      page.URL,
		Format:   f.Name,
		Template: src.Name,
		Origin:   string(src.Origin),
	}

	res, err := r.tm.RenderResult(src, tctx)
	if err != nil {
		var argErr *templating.ArgumentError
		if errors.As(err, &argErr) {
			r.logger.Error("Template function rejected its arguments", "url", page.URL, "template", src.Name, "function", argErr.Func, "error", err)
		}
		rec.Status, rec.Error = buildlog.RenderSkipped, err.Error()
		r.record(ctx, rec)
		return &PageError{URL: page.URL, Format: f.Name, Err: err}
	}
	for _, w := range res.Warnings {
		r.logger.Warn("Template degraded", "url", page.URL, "template", src.Name, "warning", w)
	}
	r.addWarnings(len(res.Warnings))

	name := filepath.Join(r.config.OutputDir, filepath.FromSlash(OutputPath(page, f)))
	if err := writeFile(r.out, name, []byte(res.Output)); err != nil {
		rec.Status, rec.Error = buildlog.RenderFailed, err.Error()
		r.record(ctx, rec)
		return &PageError{URL: page.URL, Format: f.Name, Err: err}
	}

	rec.Status = buildlog.RenderOK
	rec.Bytes = len(res.Output)
	rec.Duration = time.Since(started)
	rec.Warnings = len(res.Warnings)
	r.record(ctx, rec)

	r.mu.Lock()
	r.report.Rendered++
	r.mu.Unlock()
	r.logger.Debug("Page rendered", "url", page.URL, "format", f.Name, "template", src.Name, "origin", src.Origin)
	return nil
}

func (r *run) addWarnings(n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	r.report.Warnings += n
	r.mu.Unlock()
}

func (r *run) begin(ctx context.Context, start time.Time) {
	if r.recorder == nil {
		return
	}
	id, err := r.recorder.BeginBuild(ctx, r.version, start)
	if err != nil {
		r.logger.Warn("Build history disabled for this build", "error", err)
		return
	}
	r.buildID = id
	r.report.BuildID = id
}

func (r *run) record(ctx context.Context, rec buildlog.Render) {
	if r.buildID == 0 {
		return
	}
	if err := r.recorder.RecordRender(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("Failed to record render", "url", rec.URL, "error", err)
	}
}

// finish completes the report and the history entry.
func (r *run) finish(ctx context.Context, start time.Time, err error) (*Report, error) {
	expansions, diagnostics := r.shortcodes.Stats()
	r.report.Expansions = expansions
	r.report.Diagnostics = diagnostics
	r.report.Cache = r.tm.Registry().CacheStats()
	r.report.Duration = time.Since(start)

	status := buildlog.StatusSucceeded
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = buildlog.StatusCancelled
	case err != nil:
		status = buildlog.StatusFailed
	}

	if r.buildID != 0 {
		sum := buildlog.Summary{
			Status:      status,
			FinishedAt:  time.Now(),
			Rendered:    r.report.Rendered,
			Skipped:     r.report.Skipped,
			Warnings:    r.report.Warnings,
			Errors:      len(r.report.Errors),
			CacheHits:   r.report.Cache.Hits,
			CacheMisses: r.report.Cache.Misses,
		}
		if ferr := r.recorder.FinishBuild(context.WithoutCancel(ctx), r.buildID, sum); ferr != nil {
			r.logger.Warn("Failed to finish build history", "error", ferr)
		}
	}

	if err != nil {
		r.logger.Error("Build failed", "status", status, "error", err, "duration", r.report.Duration)
		return &r.report, err
	}
	r.logger.Info("Build finished",
		"rendered", r.report.Rendered,
		"skipped", r.report.Skipped,
		"warnings", r.report.Warnings,
		"errors", len(r.report.Errors),
		"static", r.report.Static,
		"cache_hits", r.report.Cache.Hits,
		"duration", r.report.Duration)
	return &r.report, nil
}
