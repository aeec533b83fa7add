package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/CTAG07/Sundew/pkg/build"
	"github.com/CTAG07/Sundew/pkg/content"
	"github.com/CTAG07/Sundew/pkg/markdown"
	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/go-playground/validator/v10"
	"github.com/natefinch/atomic"
)

// Environment variables that override the config file.
const (
	envLogLevel  = "SUNDEW_LOG_LEVEL"
	envWorkers   = "SUNDEW_WORKERS"
	envOutputDir = "SUNDEW_OUTPUT_DIR"
)

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Build     *build.Config              `json:"build_config" validate:"required"`
	Site      *content.Config            `json:"site_config" validate:"required"`
	Templates *templating.TemplateConfig `json:"template_config" validate:"required"`
	Markdown  *markdown.Config           `json:"markdown_config" validate:"required"`
}

// DefaultConfig returns a configuration with every section at its defaults.
func DefaultConfig() *Config {
	site := content.DefaultConfig()
	templates := templating.DefaultConfig()
	md := markdown.DefaultConfig()
	return &Config{
		Build:     build.DefaultConfig(),
		Site:      &site,
		Templates: &templates,
		Markdown:  &md,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The defaults are still usable without a file on disk.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides settings from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envLogLevel); ok && v != "" {
		c.Build.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(envWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envWorkers, err)
		}
		c.Build.Workers = n
	}
	if v, ok := lookup(envOutputDir); ok && v != "" {
		c.Build.OutputDir = v
	}
	return nil
}

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
