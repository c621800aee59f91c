// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"mvdan.cc/sh/v3/expand"

	"github.com/modlink/modlink/pkg/manifest"
)

var (
	// ErrNotFound is returned when no tier contains the package.
	ErrNotFound = errors.New("package not found")

	// ErrInvalidTiers is the sentinel wrapped by ConfigurationError.
	ErrInvalidTiers = errors.New("invalid search tiers")
)

type (
	// PackageLocation is a package directory found on disk.
	PackageLocation struct {
		PackageName string   `json:"name" yaml:"name" toml:"name"`
		Path        string   `json:"path" yaml:"path" toml:"path"`
		Tier        TierKind `json:"tier" yaml:"tier" toml:"tier"`
	}

	// NotFoundError reports a package that no tier contains, or whose name
	// could not be searched for at all.
	NotFoundError struct {
		Name     string
		Searched []string
		// Reason is set when the name itself was rejected.
		Reason error
	}

	// ConfigurationError reports an unusable search tier list.
	ConfigurationError struct {
		// Index is the offending tier, or -1 for list-level problems.
		Index    int
		Template string
		Err      error
	}

	// Locator resolves package names to directories.
	Locator struct {
		tiers        []expandedTier
		workspace    string
		manifestName string
		cache        *Cache
		group        singleflight.Group
		logger       *log.Logger
	}

	// Option configures a Locator.
	Option func(*settings)

	settings struct {
		tiers        []SearchTier
		workspace    string
		manifestName string
		env          expand.Environ
		cache        *Cache
		logger       *log.Logger
	}
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("package %q not found: %v", e.Name, e.Reason)
	}
	if len(e.Searched) == 0 {
		return fmt.Sprintf("package %q not found", e.Name)
	}
	return fmt.Sprintf("package %q not found (searched: %s)", e.Name, strings.Join(e.Searched, ", "))
}

// Unwrap returns ErrNotFound for errors.Is checks.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid search tiers: %v", e.Err)
	}
	return fmt.Sprintf("invalid search tier %d (%q): %v", e.Index, e.Template, e.Err)
}

// Unwrap returns both ErrInvalidTiers and the underlying cause.
func (e *ConfigurationError) Unwrap() []error { return []error{ErrInvalidTiers, e.Err} }

// WithTiers replaces the default search order.
func WithTiers(tiers []SearchTier) Option {
	return func(s *settings) { s.tiers = tiers }
}

// WithWorkspace sets the directory substituted for {workspace}.
// The default is the current working directory.
func WithWorkspace(dir string) Option {
	return func(s *settings) { s.workspace = dir }
}

// WithManifestName sets the file that marks a package directory.
func WithManifestName(name string) Option {
	return func(s *settings) { s.manifestName = name }
}

// WithEnviron sets the environment used to expand tier templates, as
// "KEY=value" pairs. The default is the process environment.
func WithEnviron(env []string) Option {
	return func(s *settings) { s.env = expand.ListEnviron(env...) }
}

// WithCache shares an existing cache with the locator.
func WithCache(c *Cache) Option {
	return func(s *settings) { s.cache = c }
}

// WithLogger sets the logger for lookup tracing.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New builds a Locator. Tier templates are expanded once here; an invalid
// tier list yields a *ConfigurationError.
func New(opts ...Option) (*Locator, error) {
	s := settings{
		tiers:        DefaultTiers(),
		manifestName: manifest.DefaultFileName,
	}
	for _, opt := range opts {
		opt(&s)
	}

	if len(s.tiers) == 0 {
		return nil, &ConfigurationError{Index: -1, Err: errors.New("at least one search tier is required")}
	}
	if s.env == nil {
		s.env = expand.ListEnviron(os.Environ()...)
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		s.workspace = wd
	}
	workspace, err := filepath.Abs(s.workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	tiers := make([]expandedTier, 0, len(s.tiers))
	for i, t := range s.tiers {
		if err := t.Kind.Validate(); err != nil {
			return nil, &ConfigurationError{Index: i, Template: t.Template, Err: err}
		}
		if strings.TrimSpace(t.Template) == "" {
			return nil, &ConfigurationError{Index: i, Template: t.Template, Err: errors.New("template is empty")}
		}
		if !hasNamePlaceholder(t.Template) {
			return nil, &ConfigurationError{Index: i, Template: t.Template, Err: errors.New("template must contain {name} or {base}")}
		}
		expanded, err := expandTemplate(t.Template, s.env)
		if err != nil {
			return nil, &ConfigurationError{Index: i, Template: t.Template, Err: err}
		}
		tiers = append(tiers, expandedTier{kind: t.Kind, template: expanded})
	}

	return &Locator{
		tiers:        tiers,
		workspace:    workspace,
		manifestName: s.manifestName,
		cache:        s.cache,
		logger:       s.logger,
	}, nil
}

// Resolve returns the location of package name, searching tiers in order.
// The first tier whose directory holds the manifest file wins.
func (l *Locator) Resolve(ctx context.Context, name string) (PackageLocation, error) {
	if err := ctx.Err(); err != nil {
		return PackageLocation{}, err
	}

	n, err := parsePackageName(name)
	if err != nil {
		return PackageLocation{}, &NotFoundError{Name: name, Reason: err}
	}

	if loc, ok := l.cache.Get(name); ok {
		l.logger.Debug("locator cache hit", "package", name, "path", loc.Path)
		return loc, nil
	}

	ch := l.group.DoChan(name, func() (any, error) {
		loc, err := l.search(n)
		if err != nil {
			return nil, err
		}
		l.cache.Put(loc)
		return loc, nil
	})

	select {
	case <-ctx.Done():
		return PackageLocation{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return PackageLocation{}, r.Err
		}
		return r.Val.(PackageLocation), nil
	}
}

func (l *Locator) search(n packageName) (PackageLocation, error) {
	searched := make([]string, 0, len(l.tiers))
	for _, t := range l.tiers {
		dir := t.dir(n, l.workspace)
		searched = append(searched, dir)

		info, err := os.Stat(filepath.Join(dir, l.manifestName))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		l.logger.Debug("package located", "package", n.full, "tier", t.kind, "path", dir)
		return PackageLocation{PackageName: n.full, Path: dir, Tier: t.kind}, nil
	}
	l.logger.Debug("package not found", "package", n.full, "searched", len(searched))
	return PackageLocation{}, &NotFoundError{Name: n.full, Searched: searched}
}

// ClearCache forgets every memoized location. Watch mode calls it when a
// manifest changes on disk.
func (l *Locator) ClearCache() {
	l.cache.Clear()
}

// Cache returns the locator's memo cache.
func (l *Locator) Cache() *Cache { return l.cache }

// ManifestName returns the file that marks a package directory.
func (l *Locator) ManifestName() string { return l.manifestName }

// Tiers returns the search tiers with shell parameters expanded and
// {workspace} filled in.
func (l *Locator) Tiers() []SearchTier {
	out := make([]SearchTier, len(l.tiers))
	for i, t := range l.tiers {
		out[i] = SearchTier{Kind: t.kind, Template: strings.ReplaceAll(t.template, placeholderWorkspace, l.workspace)}
	}
	return out
}
