// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"maps"
	"slices"

	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/manifest"
)

type (
	// ResolvedPackage pairs where a package lives with what its manifest says.
	ResolvedPackage struct {
		Location locator.PackageLocation    `json:"location" yaml:"location" toml:"location"`
		Manifest *manifest.PackageManifest `json:"manifest" yaml:"manifest" toml:"manifest"`
	}

	// Resolution is the outcome of resolving one source file's imports.
	// It is built by the Resolver and frozen before ResolveAll returns;
	// any mutation of a frozen Resolution panics.
	Resolution struct {
		Packages   map[string]ResolvedPackage `json:"packages" yaml:"packages" toml:"packages"`
		Unresolved []string                   `json:"unresolved" yaml:"unresolved" toml:"unresolved"`
		Errors     []string                   `json:"errors" yaml:"errors" toml:"errors"`
		Warnings   []string                   `json:"warnings" yaml:"warnings" toml:"warnings"`
		Imports    []imports.Declaration      `json:"imports" yaml:"imports" toml:"imports"`

		causes map[string]error
		frozen bool
	}
)

// NewResolution returns an empty, mutable Resolution over decls.
func NewResolution(decls []imports.Declaration) *Resolution {
	return &Resolution{
		Packages:   make(map[string]ResolvedPackage),
		Unresolved: []string{},
		Errors:     []string{},
		Warnings:   []string{},
		Imports:    slices.Clone(decls),
		causes:     make(map[string]error),
	}
}

// AddPackage records a resolved package under name.
func (r *Resolution) AddPackage(name string, pkg ResolvedPackage) {
	r.mustBeMutable()
	r.Packages[name] = pkg
}

// AddFailure records name as unresolved with one error message.
func (r *Resolution) AddFailure(name, msg string, cause error) {
	r.mustBeMutable()
	r.Unresolved = append(r.Unresolved, name)
	r.Errors = append(r.Errors, msg)
	if cause != nil {
		r.causes[name] = cause
	}
}

// AddWarning appends a non-fatal message.
func (r *Resolution) AddWarning(msg string) {
	r.mustBeMutable()
	r.Warnings = append(r.Warnings, msg)
}

// Freeze makes the Resolution read-only.
func (r *Resolution) Freeze() { r.frozen = true }

// Frozen reports whether Freeze has been called.
func (r *Resolution) Frozen() bool { return r.frozen }

// Names returns the resolved package names in sorted order.
func (r *Resolution) Names() []string {
	return slices.Sorted(maps.Keys(r.Packages))
}

// Package returns the resolved package called name.
func (r *Resolution) Package(name string) (ResolvedPackage, bool) {
	p, ok := r.Packages[name]
	return p, ok
}

// Cause returns the error that left name unresolved, if one was recorded.
func (r *Resolution) Cause(name string) error {
	return r.causes[name]
}

// IsEmpty reports whether no package was resolved.
func (r *Resolution) IsEmpty() bool { return len(r.Packages) == 0 }

// HasErrors reports whether any package failed to resolve.
func (r *Resolution) HasErrors() bool { return len(r.Errors) > 0 }

func (r *Resolution) mustBeMutable() {
	if r.frozen {
		panic("resolve: mutation of a frozen Resolution")
	}
}
