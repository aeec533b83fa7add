package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// Subcommands.
const (
	cmdBuild     = "build"
	cmdFunctions = "functions"
	cmdHistory   = "history"
	cmdVersion   = "version"
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// options holds the parsed command line.
type options struct {
	Command    string
	ConfigPath string

	// build
	Source  string
	Output  string
	Workers int
	Drafts  bool
	Abort   bool

	// functions
	JSON     bool
	Category string

	// history
	Limit int
	Page  string
}

const usage = `
Sundew - a static site generator.

Usage:
  sundew [command] [options]

Commands:
  build       Render the site (default)
  functions   List the template functions
  history     Show recent builds
  version     Print version information

Run 'sundew <command> -h' for the options of a command.
`

// parseArgs processes command-line arguments. It returns the options, a
// boolean indicating the program should exit cleanly, or an ExitError.
func parseArgs(args []string, output io.Writer) (*options, bool, error) {
	opts := &options{Command: cmdBuild}
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		opts.Command, args = args[0], args[1:]
	}

	flagSet := flag.NewFlagSet("sundew "+opts.Command, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usage+"\nOptions:\n")
		flagSet.PrintDefaults()
	}
	flagSet.StringVar(&opts.ConfigPath, "config", "config.json", "Path to the JSON config file.")

	switch opts.Command {
	case cmdBuild:
		flagSet.StringVar(&opts.Source, "source", "", "Site source directory. Overrides build_config.source_dir.")
		flagSet.StringVar(&opts.Output, "output", "", "Output directory. Overrides build_config.output_dir.")
		flagSet.IntVar(&opts.Workers, "workers", 0, "Number of pages rendered concurrently. 0 keeps the configured value.")
		flagSet.BoolVar(&opts.Drafts, "drafts", false, "Include pages marked as drafts.")
		flagSet.BoolVar(&opts.Abort, "abort-on-error", false, "Stop at the first page that fails to render.")
	case cmdFunctions:
		flagSet.BoolVar(&opts.JSON, "json", false, "Print the function list as JSON.")
		flagSet.StringVar(&opts.Category, "category", "", "Only list functions in this category.")
	case cmdHistory:
		flagSet.IntVar(&opts.Limit, "limit", 10, "Number of builds to show.")
		flagSet.StringVar(&opts.Page, "page", "", "Show the render history of one page URL instead.")
	case cmdVersion:
	default:
		fmt.Fprint(output, usage)
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", opts.Command)}
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
	}
	if opts.Workers < 0 {
		return nil, false, &ExitError{Code: 2, Message: "invalid workers: must not be negative"}
	}
	if opts.Command == cmdHistory && opts.Limit < 1 {
		return nil, false, &ExitError{Code: 2, Message: "invalid limit: must be at least 1"}
	}
	return opts, false, nil
}

// apply copies command-line overrides into config.
func (o *options) apply(config *Config) {
	if o.Source != "" {
		config.Build.SourceDir = o.Source
	}
	if o.Output != "" {
		config.Build.OutputDir = o.Output
	}
	if o.Workers > 0 {
		config.Build.Workers = o.Workers
	}
	if o.Drafts {
		config.Build.IncludeDrafts = true
	}
	if o.Abort {
		config.Build.AbortOnError = true
	}
}
