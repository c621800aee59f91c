// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/manifest"
)

type (
	// fakeLocator serves locations from a fixed map.
	fakeLocator struct {
		dirs  map[string]string
		calls atomic.Int32
	}

	// fakeManifests serves manifests keyed by directory.
	fakeManifests map[string]*manifest.PackageManifest
)

func (f *fakeLocator) Resolve(_ context.Context, name string) (locator.PackageLocation, error) {
	f.calls.Add(1)
	dir, ok := f.dirs[name]
	if !ok {
		return locator.PackageLocation{}, &locator.NotFoundError{Name: name, Searched: []string{"/fw/" + name}}
	}
	return locator.PackageLocation{PackageName: name, Path: dir, Tier: locator.TierFramework}, nil
}

func (f fakeManifests) Load(dir string) (*manifest.PackageManifest, error) {
	m, ok := f[dir]
	if !ok {
		return nil, &manifest.ReadError{Path: dir + "/package.json", Err: os.ErrNotExist}
	}
	return m, nil
}

func mustParse(t *testing.T, src string) []imports.Declaration {
	t.Helper()
	decls, errs := imports.Parse(src)
	if len(errs) > 0 {
		t.Fatalf("Parse() errors = %v", errs)
	}
	return decls
}

func TestResolveAllEmptyInput(t *testing.T) {
	t.Parallel()

	res := New(&fakeLocator{}).ResolveAll(t.Context(), nil)
	if !res.IsEmpty() || len(res.Errors) != 0 || len(res.Unresolved) != 0 {
		t.Errorf("Resolution = %+v, want empty", res)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v, want exactly one", res.Warnings)
	}
	if !res.Frozen() {
		t.Error("Resolution should be frozen")
	}
}

func TestResolveAllNoFrameworkImports(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{}
	decls := mustParse(t, `
import { html } from "lit";
import _ from "lodash";
import "./local.css";
import helper from "../helper.js";
`)
	res := New(loc).ResolveAll(t.Context(), decls)

	if !res.IsEmpty() || len(res.Errors) != 0 {
		t.Errorf("Resolution = %+v, want no packages and no errors", res)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v, want exactly one", res.Warnings)
	}
	if loc.calls.Load() != 0 {
		t.Errorf("locator called %d times, want 0", loc.calls.Load())
	}
	if len(res.Imports) != 4 {
		t.Errorf("Imports = %d, want 4 recorded declarations", len(res.Imports))
	}
}

func TestResolveAllPartialFailure(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{dirs: map[string]string{"@scope/widgets": "/fw/widgets"}}
	mf := fakeManifests{"/fw/widgets": {MainEntry: "dist/index.js"}}
	decls := mustParse(t, `
import { Button } from "@scope/widgets";
import { Chart } from "@scope/charts";
`)

	res := New(loc, WithManifestLoader(mf)).ResolveAll(t.Context(), decls)

	if len(res.Packages) != 1 || len(res.Unresolved) != 1 {
		t.Fatalf("packages=%d unresolved=%d, want 1 and 1", len(res.Packages), len(res.Unresolved))
	}
	if len(res.Errors) != 1 {
		t.Errorf("Errors = %v, want exactly one", res.Errors)
	}
	if res.Unresolved[0] != "@scope/charts" {
		t.Errorf("Unresolved = %v", res.Unresolved)
	}
	if !errors.Is(res.Cause("@scope/charts"), locator.ErrNotFound) {
		t.Errorf("Cause = %v, want ErrNotFound", res.Cause("@scope/charts"))
	}
	if _, ok := res.Package("@scope/widgets"); !ok {
		t.Error("@scope/widgets should be resolved")
	}
}

func TestResolveAllManifestFailure(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{dirs: map[string]string{"@scope/broken": "/fw/broken"}}
	res := New(loc, WithManifestLoader(fakeManifests{})).ResolveAll(t.Context(),
		mustParse(t, `import Broken from "@scope/broken";`))

	if len(res.Unresolved) != 1 || len(res.Errors) != 1 {
		t.Fatalf("Resolution = %+v, want one unresolved package", res)
	}
	if !errors.Is(res.Cause("@scope/broken"), manifest.ErrManifestRead) {
		t.Errorf("Cause = %v, want ErrManifestRead", res.Cause("@scope/broken"))
	}
}

func TestResolveAllDeduplicatesAndOrdersErrors(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{dirs: map[string]string{}}
	var src strings.Builder
	var want []string
	for i := range 20 {
		name := fmt.Sprintf("@scope/pkg%02d", i)
		fmt.Fprintf(&src, "import { A } from %q;\nimport { B } from %q;\n", name, name+"/sub")
		want = append(want, name)
	}

	res := New(loc, WithConcurrency(3)).ResolveAll(t.Context(), mustParse(t, src.String()))

	if !slices.Equal(res.Unresolved, want) {
		t.Errorf("Unresolved = %v, want first-occurrence order %v", res.Unresolved, want)
	}
	if got := loc.calls.Load(); got != 20 {
		t.Errorf("locator calls = %d, want 20 (one per distinct package)", got)
	}
}

func TestResolveAllValidateExports(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{dirs: map[string]string{
		"@scope/widgets": "/fw/widgets",
		"@scope/plain":   "/fw/plain",
	}}
	mf := fakeManifests{
		"/fw/widgets": {
			MainEntry: "index.js",
			Exports:   map[string]string{"button": "components/button.js", "date-picker": "dp.js"},
		},
		"/fw/plain": {MainEntry: "index.js"},
	}
	decls := mustParse(t, `
import { Button, DatePicker, Slider } from "@scope/widgets";
import { Anything } from "@scope/plain";
import Card from "@scope/widgets/card";
`)

	withValidation := New(loc, WithManifestLoader(mf), WithValidateExports(true)).ResolveAll(t.Context(), decls)
	if len(withValidation.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want Slider and card subpath warnings", withValidation.Warnings)
	}
	if !slices.ContainsFunc(withValidation.Warnings, func(w string) bool { return strings.Contains(w, `"Slider"`) }) {
		t.Errorf("Warnings = %v, want one naming Slider", withValidation.Warnings)
	}

	without := New(loc, WithManifestLoader(mf)).ResolveAll(t.Context(), decls)
	if len(without.Warnings) != 1 || !strings.Contains(without.Warnings[0], "card") {
		t.Errorf("Warnings = %v, want only the subpath warning", without.Warnings)
	}
}

func TestResolveAllWithLocator(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "@scope", "widgets")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "package.json"),
		[]byte(`{"name": "@scope/widgets", "version": "next", "main": "./dist/index.js"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	loc, err := locator.New(
		locator.WithWorkspace(root),
		locator.WithTiers([]locator.SearchTier{{Kind: locator.TierWorkspace, Template: "{workspace}/node_modules/{name}"}}),
	)
	if err != nil {
		t.Fatal(err)
	}

	res := New(loc).ResolveAll(t.Context(), mustParse(t, `import { Button } from "@scope/widgets";`))
	pkg, ok := res.Package("@scope/widgets")
	if !ok {
		t.Fatalf("Resolution = %+v, want @scope/widgets", res)
	}
	if pkg.Manifest.MainEntry != "dist/index.js" || pkg.Location.Path != pkgDir {
		t.Errorf("package = %+v", pkg)
	}
	// "next" is not semver; the manifest warning is surfaced with the package name.
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "@scope/widgets: ") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestFrozenResolutionPanics(t *testing.T) {
	t.Parallel()

	res := NewResolution(nil)
	res.Freeze()

	defer func() {
		if recover() == nil {
			t.Error("AddWarning on a frozen Resolution should panic")
		}
	}()
	res.AddWarning("late")
}
