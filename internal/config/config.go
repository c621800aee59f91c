// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/modlink/modlink/internal/issue"
	"github.com/modlink/modlink/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "modlink"
	// ProjectFileName is the per-project config file looked up in the working directory.
	ProjectFileName = "modlink.cue"
	// UserFileName is the config file inside the user configuration directory.
	UserFileName = "config.cue"
	// EnvPrefix prefixes environment overrides (MODLINK_OUTPUT_DIR).
	EnvPrefix = "MODLINK"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the modlink user configuration directory:
// $XDG_CONFIG_HOME/modlink on Linux, ~/Library/Application Support/modlink on
// macOS and %APPDATA%\modlink on Windows.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// loadWithOptions performs option-driven config loading and returns the
// config together with the file it came from (empty for pure defaults).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithIssue(issue.ConfigLoadFailedId).
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'modlink config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithResource(path).
			WithSuggestion("Fix the listed fields in the config file or the MODLINK_* environment").
			Wrap(err).
			BuildError()
	}

	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("public_path", d.PublicPath)
	v.SetDefault("manifest_name", d.ManifestName)
	v.SetDefault("framework_scopes", d.FrameworkScopes)
	v.SetDefault("search_tiers", d.SearchTiers)
	v.SetDefault("include_extensions", d.IncludeExtensions)
	v.SetDefault("exclude_names", d.ExcludeNames)
	v.SetDefault("exclude_directories", d.ExcludeDirectories)
	v.SetDefault("validate_exports", d.ValidateExports)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("alias_table_file", d.AliasTableFile)
	v.SetDefault("prune", d.Prune)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("log_level", d.LogLevel)
}

// findConfigFile resolves which config file to read. An explicit path must
// exist; otherwise the project file wins over the user file, and having
// neither is fine.
func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithIssue(issue.ConfigLoadFailedId).
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'modlink config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	if local := filepath.Join(opts.WorkDir, ProjectFileName); fileExists(local) {
		return local, nil
	}

	cfgDir := opts.ConfigDirPath
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			// No user directory is not an error: defaults still apply.
			return "", nil //nolint:nilerr // missing home falls back to defaults
		}
		cfgDir = dir
	}
	if user := filepath.Join(cfgDir, UserFileName); fileExists(user) {
		return user, nil
	}
	return "", nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Note: This uses manual CUE parsing instead of cueutil.ParseAndDecode because
// the config decodes to map[string]any for Viper, with Concrete(false) since
// every field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// WriteProjectFile writes cfg as modlink.cue in dir unless one exists.
// It reports whether a file was written.
func WriteProjectFile(dir string, cfg *Config) (bool, error) {
	path := filepath.Join(dir, ProjectFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// modlink configuration\n\n")

	fmt.Fprintf(&sb, "output_dir:       %q\n", cfg.OutputDir)
	if cfg.PublicPath != "" {
		fmt.Fprintf(&sb, "public_path:      %q\n", cfg.PublicPath)
	}
	fmt.Fprintf(&sb, "manifest_name:    %q\n", cfg.ManifestName)
	fmt.Fprintf(&sb, "alias_table_file: %q\n", cfg.AliasTableFile)
	fmt.Fprintf(&sb, "validate_exports: %v\n", cfg.ValidateExports)
	fmt.Fprintf(&sb, "concurrency:      %d\n", cfg.Concurrency)
	fmt.Fprintf(&sb, "prune:            %v\n", cfg.Prune)
	fmt.Fprintf(&sb, "retries:          %d\n", cfg.Retries)
	fmt.Fprintf(&sb, "log_level:        %q\n", cfg.LogLevel)

	writeList(&sb, "framework_scopes", cfg.FrameworkScopes)

	sb.WriteString("\nsearch_tiers: [\n")
	for _, t := range cfg.SearchTiers {
		fmt.Fprintf(&sb, "\t{kind: %q, template: %q},\n", t.Kind, t.Template)
	}
	sb.WriteString("]\n")

	writeList(&sb, "include_extensions", cfg.IncludeExtensions)
	writeList(&sb, "exclude_names", cfg.ExcludeNames)
	writeList(&sb, "exclude_directories", cfg.ExcludeDirectories)

	return sb.String()
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s: [\n", key)
	for _, v := range values {
		fmt.Fprintf(sb, "\t%q,\n", v)
	}
	sb.WriteString("]\n")
}
