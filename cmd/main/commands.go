package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/CTAG07/Sundew/pkg/build"
	"github.com/CTAG07/Sundew/pkg/buildlog"
	"github.com/CTAG07/Sundew/pkg/content"
	"github.com/CTAG07/Sundew/pkg/markdown"
	"github.com/CTAG07/Sundew/pkg/shortcode"
	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/CTAG07/Sundew/pkg/theme"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// site bundles the components wired from one config.
type site struct {
	theme      *theme.FS
	templates  *templating.TemplateManager
	markdown   *markdown.Converter
	shortcodes *shortcode.Pipeline
}

func newSite(logger *slog.Logger, fsys afero.Fs, config *Config) (*site, error) {
	bc := config.Build
	var themeDir string
	if config.Site.Theme != "" {
		themeDir = bc.Path(filepath.Join(bc.ThemesDir, config.Site.Theme))
	}
	th, err := theme.Open(logger, fsys, theme.Options{
		LayoutsDir: bc.Path(bc.LayoutsDir),
		StaticDir:  bc.Path(bc.StaticDir),
		ThemeDir:   themeDir,
	})
	if err != nil {
		return nil, err
	}

	tm, err := templating.NewTemplateManager(logger, th, config.Templates)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	md := markdown.NewConverter(logger, *config.Markdown)
	return &site{
		theme:      th,
		templates:  tm,
		markdown:   md,
		shortcodes: shortcode.NewPipeline(logger, tm, md),
	}, nil
}

// siteConfig returns the site config with theme params filled in where the
// site does not set them.
func siteConfig(config *Config, meta theme.Meta) content.Config {
	sc := *config.Site
	params := make(map[string]any, len(meta.Params)+len(sc.Params))
	for k, v := range meta.Params {
		params[k] = v
	}
	for k, v := range sc.Params {
		params[k] = v
	}
	sc.Params = params
	return sc
}

func runBuild(ctx context.Context, logger *slog.Logger, config *Config, stdout io.Writer) error {
	fsys := afero.NewOsFs()
	s, err := newSite(logger, fsys, config)
	if err != nil {
		return err
	}

	bc := *config.Build
	loaded, err := content.Load(logger, fsys, content.Options{
		Dir:  bc.Path(bc.ContentDir),
		Site: siteConfig(config, s.theme.Meta()),
		Build: content.BuildInfo{
			Theme:         s.theme.Meta().Name,
			IncludeDrafts: bc.IncludeDrafts,
		},
		IncludeDrafts: bc.IncludeDrafts,
	})
	if err != nil {
		return err
	}

	bc.OutputDir = bc.Path(bc.OutputDir)
	builder := build.NewBuilder(logger, &bc, s.templates, s.shortcodes, s.markdown, fsys)
	builder.SetStatic(s.theme)
	builder.SetVersion(Version)

	var store *buildlog.Store
	if bc.BuildLogPath != "" {
		var closeDB func()
		store, closeDB, err = openHistory(logger, bc.BuildLogPath)
		if err != nil {
			logger.Warn("Build history disabled", "error", err)
		} else {
			defer closeDB()
			builder.SetRecorder(store)
		}
	}

	report, err := builder.Build(ctx, loaded)
	if report != nil {
		printReport(stdout, report)
	}
	if store != nil && bc.HistoryLimit > 0 {
		if n, perr := store.Prune(context.WithoutCancel(ctx), bc.HistoryLimit); perr != nil {
			logger.Warn("Failed to prune build history", "error", perr)
		} else if n > 0 {
			logger.Debug("Pruned build history", "builds", n)
		}
	}
	return err
}

func printReport(w io.Writer, r *build.Report) {
	fmt.Fprintf(w, "Pages      %d\n", r.Pages)
	fmt.Fprintf(w, "Rendered   %d\n", r.Rendered)
	fmt.Fprintf(w, "Skipped    %d\n", r.Skipped)
	fmt.Fprintf(w, "Warnings   %d\n", r.Warnings)
	fmt.Fprintf(w, "Static     %d\n", r.Static)
	fmt.Fprintf(w, "Shortcodes %d (%d diagnostics)\n", r.Expansions, r.Diagnostics)
	fmt.Fprintf(w, "Cache      %d hits, %d misses\n", r.Cache.Hits, r.Cache.Misses)
	fmt.Fprintf(w, "Took       %s\n", r.Duration.Round(time.Millisecond))
	for _, err := range r.Errors {
		fmt.Fprintf(w, "  error: %v\n", err)
	}
}

// openHistory opens the build history database, creating its directory and
// schema as needed.
func openHistory(logger *slog.Logger, dataSource string) (*buildlog.Store, func(), error) {
	file, _, _ := strings.Cut(dataSource, "?")
	file = strings.TrimPrefix(file, "file:")
	if dir := filepath.Dir(file); dir != "" && file != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := openDB(dataSource)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err = buildlog.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store, err := buildlog.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store.SetLogger(logger)
	return store, func() {
		store.Close()
		if err := db.Close(); err != nil {
			logger.Error("Failed to close history database", "error", err)
		}
	}, nil
}

// functionInfo is the listing shape of one registry entry.
type functionInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Pure     bool   `json:"pure"`
	Arity    string `json:"arity"`
}

func arity(e templating.FunctionEntry) string {
	switch {
	case e.MaxArgs < 0:
		return fmt.Sprintf("%d+", e.MinArgs)
	case e.MinArgs == e.MaxArgs:
		return fmt.Sprint(e.MinArgs)
	default:
		return fmt.Sprintf("%d-%d", e.MinArgs, e.MaxArgs)
	}
}

func listFunctions(registry *templating.Registry, category string) []functionInfo {
	var out []functionInfo
	for _, e := range registry.Entries() {
		if category != "" && !strings.EqualFold(e.Category, category) {
			continue
		}
		out = append(out, functionInfo{Name: e.Name, Category: e.Category, Pure: e.Pure, Arity: arity(e)})
	}
	return out
}

func runFunctions(logger *slog.Logger, config *Config, opts *options, stdout io.Writer) error {
	s, err := newSite(logger, afero.NewOsFs(), config)
	if err != nil {
		return err
	}
	funcs := listFunctions(s.templates.Registry(), opts.Category)
	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(funcs)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tARGS\tPURE")
	for _, f := range funcs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", f.Name, f.Category, f.Arity, f.Pure)
	}
	return tw.Flush()
}

func runHistory(ctx context.Context, logger *slog.Logger, config *Config, opts *options, stdout io.Writer) error {
	if config.Build.BuildLogPath == "" {
		return errors.New("build history is disabled (build_config.build_log_path is empty)")
	}
	store, closeDB, err := openHistory(logger, config.Build.BuildLogPath)
	if err != nil {
		return err
	}
	defer closeDB()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	if opts.Page != "" {
		renders, err := store.PageHistory(ctx, opts.Page, opts.Limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "BUILD\tFORMAT\tTEMPLATE\tORIGIN\tSTATUS\tSIZE\tTIME\tERROR")
		for _, r := range renders {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.BuildID, r.Format, r.Template, r.Origin,
				r.Status, humanize.Bytes(uint64(r.Bytes)), r.Duration, r.Error)
		}
		return tw.Flush()
	}

	builds, err := store.RecentBuilds(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tRENDERED\tSKIPPED\tWARNINGS\tERRORS\tDURATION\tVERSION")
	for _, b := range builds {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n", b.ID, humanize.Time(b.StartedAt), b.Status,
			b.Rendered, b.Skipped, b.Warnings, b.Errors, b.Duration().Round(time.Millisecond), b.Version)
	}
	return tw.Flush()
}
