// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/manifest"
)

// DefaultConcurrency bounds the number of packages resolved at once.
const DefaultConcurrency = 8

type (
	// PackageLocator finds package directories. *locator.Locator satisfies it.
	PackageLocator interface {
		Resolve(ctx context.Context, name string) (locator.PackageLocation, error)
	}

	// ManifestLoader reads the manifest of a package directory.
	// *manifest.Reader satisfies it.
	ManifestLoader interface {
		Load(dir string) (*manifest.PackageManifest, error)
	}

	// Resolver resolves framework imports to packages.
	Resolver struct {
		locator         PackageLocator
		manifests       ManifestLoader
		concurrency     int
		validateExports bool
		logger          *log.Logger
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	// request is one distinct package to resolve with the declarations
	// that import it.
	request struct {
		name  string
		decls []imports.Declaration
	}

	outcome struct {
		pkg   ResolvedPackage
		msg   string
		cause error
		warns []string
	}
)

// WithManifestLoader replaces the default package.json reader.
func WithManifestLoader(m ManifestLoader) Option {
	return func(r *Resolver) { r.manifests = m }
}

// WithConcurrency bounds concurrent package lookups. Values below one
// select DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(r *Resolver) { r.concurrency = n }
}

// WithValidateExports enables checking imported symbols against manifests.
func WithValidateExports(enabled bool) Option {
	return func(r *Resolver) { r.validateExports = enabled }
}

// WithLogger sets the resolver logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver that finds packages with loc.
func New(loc PackageLocator, opts ...Option) *Resolver {
	r := &Resolver{
		locator:     loc,
		manifests:   manifest.NewReader(""),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = DefaultConcurrency
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r
}

// ResolveAll resolves every framework import in decls and returns the
// frozen Resolution. Failures are recorded in the Resolution, never
// returned; a canceled context shows up as errors for the packages that
// had not finished.
func (r *Resolver) ResolveAll(ctx context.Context, decls []imports.Declaration) *Resolution {
	res := NewResolution(decls)
	defer res.Freeze()

	if len(decls) == 0 {
		res.AddWarning("no imports found; nothing to resolve")
		return res
	}

	for _, d := range decls {
		if d.Category != imports.CategoryFramework {
			r.logger.Debug("skipping non-framework import", "specifier", d.Specifier, "category", d.Category, "line", d.Line)
		}
	}

	reqs := groupFramework(decls)
	if len(reqs) == 0 {
		c := imports.CountByCategory(decls)
		res.AddWarning(fmt.Sprintf("no framework imports found (%d external, %d local); nothing to resolve", c.External, c.Local))
		return res
	}

	outcomes := make([]outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = r.resolveOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait() // workers never fail; errors live in outcomes

	// Merge in first-occurrence order so messages are deterministic.
	for i, req := range reqs {
		o := outcomes[i]
		if o.msg != "" {
			res.AddFailure(req.name, o.msg, o.cause)
			r.logger.Warn("package unresolved", "package", req.name, "err", o.cause)
			continue
		}
		res.AddPackage(req.name, o.pkg)
		for _, w := range o.warns {
			res.AddWarning(w)
		}
		r.logger.Debug("package resolved", "package", req.name, "tier", o.pkg.Location.Tier, "path", o.pkg.Location.Path)
	}

	return res
}

func (r *Resolver) resolveOne(ctx context.Context, req request) outcome {
	loc, err := r.locator.Resolve(ctx, req.name)
	if err != nil {
		return outcome{msg: fmt.Sprintf("failed to locate %s: %v", req.name, err), cause: err}
	}

	m, err := r.manifests.Load(loc.Path)
	if err != nil {
		return outcome{msg: fmt.Sprintf("failed to load manifest of %s: %v", req.name, err), cause: err}
	}

	o := outcome{pkg: ResolvedPackage{Location: loc, Manifest: m}}
	for _, w := range m.Warnings {
		o.warns = append(o.warns, fmt.Sprintf("%s: %s", req.name, w))
	}
	if m.PackageName != "" && m.PackageName != req.name {
		o.warns = append(o.warns, fmt.Sprintf("%s: manifest declares name %q", req.name, m.PackageName))
	}
	o.warns = append(o.warns, checkSubpaths(req, m)...)
	if r.validateExports {
		o.warns = append(o.warns, ValidateExports(req.name, req.decls, m)...)
	}
	return o
}

// ValidateExports checks the named symbols of decls against m and returns
// one warning per symbol m does not export. Manifests that list neither
// symbols nor sub-exports are not validated.
func ValidateExports(name string, decls []imports.Declaration, m *manifest.PackageManifest) []string {
	if m == nil || !m.CanValidate() {
		return nil
	}
	var warns []string
	for _, d := range decls {
		if d.Kind != imports.KindNamed || d.Subpath() != "" {
			continue
		}
		for _, s := range d.NamedSymbols() {
			if !m.HasExport(s.Name) {
				warns = append(warns, fmt.Sprintf("%s: line %d imports %q, which the package does not export", name, d.Line, s.Name))
			}
		}
	}
	return warns
}

// checkSubpaths warns about subpath imports the manifest has no export for.
// Those specifiers would be missing from the alias table.
func checkSubpaths(req request, m *manifest.PackageManifest) []string {
	var warns []string
	seen := make(map[string]bool)
	for _, d := range req.decls {
		sub := d.Subpath()
		if sub == "" || seen[sub] {
			continue
		}
		seen[sub] = true
		if _, ok := m.Export(sub); ok {
			continue
		}
		if _, ok := m.Export(strings.TrimSuffix(sub, ".js")); ok {
			continue
		}
		warns = append(warns, fmt.Sprintf("%s: line %d imports subpath %q, which has no export entry", req.name, d.Line, sub))
	}
	return warns
}

// groupFramework returns the distinct framework packages of decls in
// first-occurrence order.
func groupFramework(decls []imports.Declaration) []request {
	var reqs []request
	index := make(map[string]int)
	for _, d := range decls {
		if d.Category != imports.CategoryFramework {
			continue
		}
		name := d.PackageName()
		i, ok := index[name]
		if !ok {
			i = len(reqs)
			index[name] = i
			reqs = append(reqs, request{name: name})
		}
		reqs[i].decls = append(reqs[i].decls, d)
	}
	return reqs
}
