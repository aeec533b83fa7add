package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, exit, err := parseArgs(args, stderr)
	if exit {
		return 0
	}
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(stderr, "Error:", exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	if opts.Command == cmdVersion {
		fmt.Fprintf(stdout, "sundew %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return 0
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(stderr, "Error: failed to load .env:", err)
		return 1
	}

	config, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	opts.apply(config)
	if err := config.Validate(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	logger := newLogger(config.Build.LogLevel, config.Build.LogFormat, stderr)

	switch opts.Command {
	case cmdFunctions:
		err = runFunctions(logger, config, opts, stdout)
	case cmdHistory:
		err = runHistory(ctx, logger, config, opts, stdout)
	default:
		err = runBuild(ctx, logger, config, stdout)
	}
	if err != nil {
		logger.Error("Command failed", "command", opts.Command, "error", err)
		return 1
	}
	return 0
}
