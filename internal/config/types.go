// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/modlink/modlink/pkg/collect"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/manifest"
)

const (
	// DefaultOutputDir is where packages are copied when nothing else is set.
	DefaultOutputDir = "build/modules"
	// DefaultAliasTableFile is the import map file name inside the output dir.
	DefaultAliasTableFile = "importmap.json"
	// DefaultConcurrency bounds resolution and copy workers.
	DefaultConcurrency = 8
	// MaxConcurrency is the largest accepted worker count.
	MaxConcurrency = 256
	// MaxRetries is the largest accepted output preparation retry count.
	MaxRetries = 10
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config is the complete modlink configuration.
	Config struct {
		// OutputDir receives copied packages and the import map. It may be a
		// local path or an afs URL (mem://, s3://, gs://).
		OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir" mapstructure:"output_dir"`
		// PublicPath is the URL prefix written into the import map. Empty
		// means OutputDir.
		PublicPath string `json:"public_path" yaml:"public_path" toml:"public_path" mapstructure:"public_path"`
		// ManifestName is the file that marks a package directory.
		ManifestName string `json:"manifest_name" yaml:"manifest_name" toml:"manifest_name" mapstructure:"manifest_name"`
		// FrameworkScopes restricts which scopes count as framework imports.
		// Empty means every scoped specifier.
		FrameworkScopes []string `json:"framework_scopes" yaml:"framework_scopes" toml:"framework_scopes" mapstructure:"framework_scopes"`
		// SearchTiers is the ordered package search path.
		SearchTiers []locator.SearchTier `json:"search_tiers" yaml:"search_tiers" toml:"search_tiers" mapstructure:"search_tiers"`

		IncludeExtensions  []string `json:"include_extensions" yaml:"include_extensions" toml:"include_extensions" mapstructure:"include_extensions"`
		ExcludeNames       []string `json:"exclude_names" yaml:"exclude_names" toml:"exclude_names" mapstructure:"exclude_names"`
		ExcludeDirectories []string `json:"exclude_directories" yaml:"exclude_directories" toml:"exclude_directories" mapstructure:"exclude_directories"`

		ValidateExports bool   `json:"validate_exports" yaml:"validate_exports" toml:"validate_exports" mapstructure:"validate_exports"`
		Concurrency     int    `json:"concurrency" yaml:"concurrency" toml:"concurrency" mapstructure:"concurrency"`
		AliasTableFile  string `json:"alias_table_file" yaml:"alias_table_file" toml:"alias_table_file" mapstructure:"alias_table_file"`
		Prune           bool   `json:"prune" yaml:"prune" toml:"prune" mapstructure:"prune"`
		Retries         int    `json:"retries" yaml:"retries" toml:"retries" mapstructure:"retries"`
		LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level" mapstructure:"log_level"`
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// every field-level problem.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	rules := collect.DefaultRules()
	return &Config{
		OutputDir:          DefaultOutputDir,
		ManifestName:       manifest.DefaultFileName,
		FrameworkScopes:    []string{},
		SearchTiers:        locator.DefaultTiers(),
		IncludeExtensions:  rules.IncludeExtensions,
		ExcludeNames:       rules.ExcludeNames,
		ExcludeDirectories: rules.ExcludeDirectories,
		Concurrency:        DefaultConcurrency,
		AliasTableFile:     DefaultAliasTableFile,
		LogLevel:           "info",
	}
}

// Validate checks the constraints the CUE schema cannot see (values that
// arrived through the environment, cross-field rules) and returns an
// *InvalidConfigError listing every problem.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir must not be empty"))
	}
	if c.ManifestName == "" || strings.ContainsAny(c.ManifestName, `/\`) {
		errs = append(errs, fmt.Errorf("manifest_name %q must be a plain file name", c.ManifestName))
	}
	if c.AliasTableFile == "" || c.AliasTableFile != filepath.Base(c.AliasTableFile) {
		errs = append(errs, fmt.Errorf("alias_table_file %q must be a plain file name", c.AliasTableFile))
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency %d must be between 1 and %d", c.Concurrency, MaxConcurrency))
	}
	if c.Retries < 0 || c.Retries > MaxRetries {
		errs = append(errs, fmt.Errorf("retries %d must be between 0 and %d", c.Retries, MaxRetries))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q: %w", c.LogLevel, err))
	}
	if len(c.SearchTiers) == 0 {
		errs = append(errs, errors.New("search_tiers must list at least one tier"))
	}
	for i, t := range c.SearchTiers {
		if err := t.Kind.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("search_tiers[%d]: %w", i, err))
		}
		if !strings.Contains(t.Template, "{name}") && !strings.Contains(t.Template, "{base}") {
			errs = append(errs, fmt.Errorf("search_tiers[%d]: template %q must contain {name} or {base}", i, t.Template))
		}
	}
	if err := c.Rules().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Rules returns the file selection rules for the collector.
func (c *Config) Rules() collect.Rules {
	return collect.Rules{
		IncludeExtensions:  c.IncludeExtensions,
		ExcludeNames:       c.ExcludeNames,
		ExcludeDirectories: c.ExcludeDirectories,
	}
}

// ImportMapBase returns the prefix used for import map paths.
func (c *Config) ImportMapBase() string {
	if c.PublicPath != "" {
		return c.PublicPath
	}
	return c.OutputDir
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
