// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/modlink/modlink/internal/issue"
	"github.com/modlink/modlink/pkg/locator"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func loadFrom(t *testing.T, opts LoadOptions) (*Config, string, error) {
	t.Helper()
	if opts.ConfigDirPath == "" {
		opts.ConfigDirPath = t.TempDir()
	}
	return NewProvider().Load(t.Context(), opts)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.OutputDir != "build/modules" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.Concurrency != 8 || cfg.AliasTableFile != "importmap.json" || cfg.ManifestName != "package.json" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.SearchTiers) != 3 || cfg.SearchTiers[0].Kind != locator.TierFramework {
		t.Errorf("SearchTiers = %v", cfg.SearchTiers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.ImportMapBase() != cfg.OutputDir {
		t.Errorf("ImportMapBase() = %q, want output dir", cfg.ImportMapBase())
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := loadFrom(t, LoadOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadProjectFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), `
output_dir: "public/vendor"
public_path: "/vendor"
validate_exports: true
concurrency: 4
framework_scopes: ["@acme"]
search_tiers: [
	{kind: "workspace", template: "{workspace}/node_modules/{name}"},
]
`)

	cfg, path, err := loadFrom(t, LoadOptions{WorkDir: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != filepath.Join(dir, ProjectFileName) {
		t.Errorf("path = %q", path)
	}
	if cfg.OutputDir != "public/vendor" || cfg.ImportMapBase() != "/vendor" {
		t.Errorf("OutputDir/ImportMapBase = %q/%q", cfg.OutputDir, cfg.ImportMapBase())
	}
	if !cfg.ValidateExports || cfg.Concurrency != 4 {
		t.Errorf("ValidateExports/Concurrency = %v/%d", cfg.ValidateExports, cfg.Concurrency)
	}
	want := []locator.SearchTier{{Kind: locator.TierWorkspace, Template: "{workspace}/node_modules/{name}"}}
	if !reflect.DeepEqual(cfg.SearchTiers, want) {
		t.Errorf("SearchTiers = %+v", cfg.SearchTiers)
	}
	if !slices.Equal(cfg.FrameworkScopes, []string{"@acme"}) {
		t.Errorf("FrameworkScopes = %v", cfg.FrameworkScopes)
	}
	// Untouched keys keep their defaults.
	if cfg.AliasTableFile != DefaultAliasTableFile {
		t.Errorf("AliasTableFile = %q", cfg.AliasTableFile)
	}
}

func TestLoadUserFile(t *testing.T) {
	t.Parallel()

	userDir := t.TempDir()
	writeFile(t, filepath.Join(userDir, UserFileName), `prune: true`)

	cfg, path, err := loadFrom(t, LoadOptions{WorkDir: t.TempDir(), ConfigDirPath: userDir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Prune || path != filepath.Join(userDir, UserFileName) {
		t.Errorf("Prune = %v, path = %q", cfg.Prune, path)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("MODLINK_OUTPUT_DIR", "dist/modules")
	t.Setenv("MODLINK_CONCURRENCY", "2")

	cfg, _, err := loadFrom(t, LoadOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutputDir != "dist/modules" || cfg.Concurrency != 2 {
		t.Errorf("OutputDir/Concurrency = %q/%d", cfg.OutputDir, cfg.Concurrency)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax error", `output_dir: "x`, "load configuration"},
		{"unknown field", `outptu_dir: "x"`, "load configuration"},
		{"schema violation", `concurrency: 0`, "load configuration"},
		{"bad tier kind", `search_tiers: [{kind: "remote", template: "/x/{name}"}]`, "load configuration"},
		{"tier without placeholder", `search_tiers: [{kind: "cache", template: "/x"}]`, "validate configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ProjectFileName), tt.content)

			_, _, err := loadFrom(t, LoadOptions{WorkDir: dir})
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("Load() error = %v, want *issue.ActionableError", err)
			}
			if ae.Operation != tt.want {
				t.Errorf("Operation = %q, want %q", ae.Operation, tt.want)
			}
			if !ae.HasSuggestions() {
				t.Error("expected suggestions")
			}
		})
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := loadFrom(t, LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.OutputDir = " "
	cfg.Concurrency = 0
	cfg.AliasTableFile = "maps/importmap.json"
	cfg.LogLevel = "loud"
	cfg.IncludeExtensions = []string{"js"}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	var ice *InvalidConfigError
	if !errors.As(err, &ice) || len(ice.FieldErrors) != 5 {
		t.Errorf("FieldErrors = %v, want 5", ice)
	}
}

func TestGenerateCUERoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PublicPath = "/static/modules"
	cfg.ValidateExports = true
	cfg.FrameworkScopes = []string{"@acme"}

	dir := t.TempDir()
	written, err := WriteProjectFile(dir, cfg)
	if err != nil || !written {
		t.Fatalf("WriteProjectFile() = %v, %v", written, err)
	}
	if again, _ := WriteProjectFile(dir, cfg); again {
		t.Error("WriteProjectFile should not overwrite an existing file")
	}

	loaded, _, err := loadFrom(t, LoadOptions{WorkDir: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}
