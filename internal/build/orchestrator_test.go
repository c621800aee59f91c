// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/testutil"
	"github.com/modlink/modlink/pkg/aliastable"
	"github.com/modlink/modlink/pkg/collect"
	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/locator"
)

type flakyFS struct {
	collect.OSFileSystem
	failures int
	calls    int
}

func (f *flakyFS) MkdirAll(ctx context.Context, dir string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("device busy")
	}
	return f.OSFileSystem.MkdirAll(ctx, dir)
}

// writePackage creates node_modules/<name> under ws with the given files.
func writePackage(t *testing.T, ws, name string, files map[string]string) {
	t.Helper()
	testutil.WritePackage(t, ws, name, files)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SearchTiers = []locator.SearchTier{
		{Kind: locator.TierWorkspace, Template: "{workspace}/node_modules/{name}"},
	}
	return cfg
}

func newOrchestrator(t *testing.T, ws string, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithWorkspace(ws), WithEnviron([]string{})}, opts...)
	o, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return o
}

func widgetsPackage(exports string) map[string]string {
	return map[string]string{
		"package.json":            `{"name": "@scope/widgets", "version": "1.2.0", "main": "dist/index.js"` + exports + `}`,
		"dist/index.js":           "export class Button {}\n",
		"components/button.js":    "export default class {}\n",
		"README.md":               "# widgets\n",
		"test/button.test.js":     "test()\n",
		"components/button.d.ts":  "export {}\n",
		"dist/index.js.map":       "{}",
		"assets/icon.svg":         "<svg/>",
		"node_modules/x/index.js": "nested",
	}
}

func TestRunScenarioA(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Run(context.Background(), Input{
		Source: imports.FromText("app.js", `import { Button } from "@scope/widgets";`),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Phase != PhaseDone {
		t.Errorf("Phase = %s, want done", res.Phase)
	}
	if len(res.Resolution.Packages) != 1 {
		t.Fatalf("Packages = %d, want 1", len(res.Resolution.Packages))
	}
	want := map[string]string{"@scope/widgets": "/build/modules/widgets/dist/index.js"}
	if !maps.Equal(res.AliasTable.Entries, want) {
		t.Errorf("Entries = %v, want %v", res.AliasTable.Entries, want)
	}

	for _, rel := range []string{"package.json", "dist/index.js", "components/button.js", "dist/index.js.map", "assets/icon.svg"} {
		if _, err := os.Stat(filepath.Join(ws, "build", "modules", "widgets", filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected %s to be copied: %v", rel, err)
		}
	}
	for _, rel := range []string{"README.md", "test/button.test.js", "components/button.d.ts", "node_modules/x/index.js"} {
		if _, err := os.Stat(filepath.Join(ws, "build", "modules", "widgets", filepath.FromSlash(rel))); err == nil {
			t.Errorf("%s should have been filtered out", rel)
		}
	}
	if res.Stats.FilesCopied != 5 || res.Stats.FilesFailed != 0 {
		t.Errorf("Stats copied=%d failed=%d, want 5 and 0", res.Stats.FilesCopied, res.Stats.FilesFailed)
	}
	if res.Stats.AliasEntries != 1 || res.Stats.Resolved != 1 || res.Stats.Imports.Framework != 1 {
		t.Errorf("Stats = %+v", res.Stats)
	}
	if res.HasErrors() {
		t.Errorf("HasErrors() = true, errors %v", res.Resolution.Errors)
	}

	data, err := os.ReadFile(res.AliasTablePath)
	if err != nil {
		t.Fatalf("import map not written: %v", err)
	}
	written, err := aliastable.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if !maps.Equal(written.Entries, want) {
		t.Errorf("written Entries = %v, want %v", written.Entries, want)
	}
	if !slices.Equal(res.Changes.Added, []string{"@scope/widgets"}) {
		t.Errorf("Changes.Added = %v", res.Changes.Added)
	}
}

func TestRunScenarioB(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(`, "exports": {".": "./dist/index.js", "./button": "./components/button.js"}`))
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Run(context.Background(), Input{
		Source: imports.FromText("app.js", "import { Button } from \"@scope/widgets\";\nimport Btn from \"@scope/widgets/button\";\n"),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := map[string]string{
		"@scope/widgets":        "/build/modules/widgets/dist/index.js",
		"@scope/widgets/button": "/build/modules/widgets/components/button.js",
	}
	if !maps.Equal(res.AliasTable.Entries, want) {
		t.Errorf("Entries = %v, want %v", res.AliasTable.Entries, want)
	}
}

func TestRunScenarioC(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())

	src := "import { Button } from '@scope/widgets';\nimport { Chart } from '@scope/missing';\nimport lodash from 'lodash';\n"
	res, err := o.Run(context.Background(), Input{Source: imports.FromText("app.js", src)})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Resolution.Packages) != 1 {
		t.Errorf("Packages = %d, want 1", len(res.Resolution.Packages))
	}
	if !slices.Equal(res.Resolution.Unresolved, []string{"@scope/missing"}) {
		t.Errorf("Unresolved = %v", res.Resolution.Unresolved)
	}
	if len(res.Resolution.Errors) < 1 {
		t.Error("Errors is empty")
	}
	if !res.HasErrors() {
		t.Error("HasErrors() = false")
	}
	if res.Phase != PhaseDone {
		t.Errorf("Phase = %s, want done", res.Phase)
	}
	if res.Stats.Imports.External != 1 || res.Stats.Unresolved != 1 {
		t.Errorf("Stats = %+v", res.Stats)
	}
}

func TestRunShortCircuit(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Run(context.Background(), Input{
		Source: imports.FromText("app.js", "import x from './local.js';\nimport y from 'lodash';\n"),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Phase != PhaseDone {
		t.Errorf("Phase = %s, want done", res.Phase)
	}
	if res.Session != nil || res.AliasTable != nil {
		t.Error("collect and alias table phases should have been skipped")
	}
	if len(res.Resolution.Errors) != 0 {
		t.Errorf("Errors = %v", res.Resolution.Errors)
	}
	if len(res.Resolution.Warnings) != 1 {
		t.Errorf("Resolution.Warnings = %v, want exactly one", res.Resolution.Warnings)
	}
	if len(res.AllWarnings()) != 2 {
		t.Errorf("AllWarnings() = %v", res.AllWarnings())
	}
	if _, err := os.Stat(filepath.Join(ws, "build")); !os.IsNotExist(err) {
		t.Errorf("output dir should not be created, stat err = %v", err)
	}
}

func TestRunPreParsedSource(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())

	decls := []imports.Declaration{{Specifier: "@scope/widgets", Kind: imports.KindDefault, Line: 1}}
	res, err := o.Run(context.Background(), Input{Source: imports.FromDeclarations("analyzer", decls)})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Imports[0].Category != imports.CategoryFramework {
		t.Errorf("Category = %s, want framework", res.Imports[0].Category)
	}
	if res.AliasTable.Len() != 1 {
		t.Errorf("alias entries = %d, want 1", res.AliasTable.Len())
	}
}

func TestRunParseErrorsAreNotFatal(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())

	src := "import { from '@scope/broken';\nimport { Button } from '@scope/widgets';\n"
	res, err := o.Run(context.Background(), Input{Source: imports.FromText("app.js", src)})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.ParseErrors) != 1 || res.Stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %v", res.ParseErrors)
	}
	if res.AliasTable.Len() != 1 {
		t.Errorf("alias entries = %d, want 1", res.AliasTable.Len())
	}
}

func TestRunRebuildDiff(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	writePackage(t, ws, "@scope/charts", map[string]string{
		"package.json":  `{"name": "@scope/charts", "module": "esm/charts.js"}`,
		"esm/charts.js": "export {}\n",
	})
	o := newOrchestrator(t, ws, testConfig())
	ctx := context.Background()

	first, err := o.Run(ctx, Input{Source: imports.FromText("app.js", "import { Button } from '@scope/widgets';")})
	if err != nil {
		t.Fatal(err)
	}
	firstJSON, _ := first.AliasTable.MarshalJSON()

	second, err := o.Run(ctx, Input{Source: imports.FromText("app.js", "import { Chart } from '@scope/charts';")})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(second.Changes.Added, []string{"@scope/charts"}) || !slices.Equal(second.Changes.Removed, []string{"@scope/widgets"}) {
		t.Errorf("Changes = %+v", second.Changes)
	}

	third, err := o.Run(ctx, Input{
		Source:   imports.FromText("app.js", "import { Button } from '@scope/widgets';"),
		Previous: first.AliasTable,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !third.Changes.Empty() {
		t.Errorf("Changes against identical previous table = %+v", third.Changes)
	}
	thirdJSON, _ := third.AliasTable.MarshalJSON()
	if string(firstJSON) != string(thirdJSON) {
		t.Error("alias table is not byte-identical across identical builds")
	}
}

func TestRunOutputRetries(t *testing.T) {
	t.Parallel()

	t.Run("recovers within retry budget", func(t *testing.T) {
		t.Parallel()
		ws := t.TempDir()
		writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
		cfg := testConfig()
		cfg.Retries = 2
		fsys := &flakyFS{failures: 2}
		o := newOrchestrator(t, ws, cfg, WithFileSystem(fsys))

		res, err := o.Run(context.Background(), Input{Source: imports.FromText("app.js", "import W from '@scope/widgets';")})
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if res.Phase != PhaseDone || fsys.calls != 3 {
			t.Errorf("Phase = %s, MkdirAll calls = %d", res.Phase, fsys.calls)
		}
	})

	t.Run("fatal after retries", func(t *testing.T) {
		t.Parallel()
		ws := t.TempDir()
		writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
		cfg := testConfig()
		cfg.Retries = 1
		o := newOrchestrator(t, ws, cfg, WithFileSystem(&flakyFS{failures: 5}))

		res, err := o.Run(context.Background(), Input{Source: imports.FromText("app.js", "import W from '@scope/widgets';")})
		if !errors.Is(err, ErrOutputNotWritable) {
			t.Fatalf("Run() error = %v, want ErrOutputNotWritable", err)
		}
		var pe *PhaseError
		if !errors.As(err, &pe) || pe.Phase != PhaseInstalled {
			t.Errorf("error = %v, want PhaseError at installed", err)
		}
		if res == nil || res.Phase != PhaseResolved || len(res.Resolution.Packages) != 1 {
			t.Errorf("partial result not preserved: %+v", res)
		}
	})
}

func TestNewConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "empty output dir", mutate: func(c *config.Config) { c.OutputDir = "" }},
		{name: "no tiers", mutate: func(c *config.Config) { c.SearchTiers = nil }},
		{name: "unknown tier kind", mutate: func(c *config.Config) {
			c.SearchTiers = []locator.SearchTier{{Kind: "remote", Template: "/x/{name}"}}
		}},
		{name: "bad shell syntax in template", mutate: func(c *config.Config) {
			c.SearchTiers = []locator.SearchTier{{Kind: locator.TierCache, Template: "/opt/{name}/${PKG_ROOT"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := New(cfg, WithWorkspace(t.TempDir()))
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("New() error = %v, want ErrConfiguration", err)
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("error type = %T, want *ConfigurationError", err)
			}
		})
	}

	if _, err := New(nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("New(nil) error = %v", err)
	}
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	o := newOrchestrator(t, ws, testConfig())
	src := Input{Source: imports.FromText("app.js", "import W from '@scope/late';")}

	res, err := o.Run(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Resolution.Unresolved) != 1 {
		t.Fatalf("Unresolved = %v", res.Resolution.Unresolved)
	}

	writePackage(t, ws, "@scope/late", map[string]string{
		"package.json": `{"name": "@scope/late"}`,
		"index.js":     "export default 1\n",
	})
	o.ClearCache()

	res, err = o.Run(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := res.AliasTable.Lookup("@scope/late"); got != "/build/modules/late/index.js" {
		t.Errorf("Lookup(@scope/late) = %q", got)
	}
}

func TestPhase(t *testing.T) {
	t.Parallel()

	if PhaseAliasTableReady.String() != "alias-table-ready" {
		t.Errorf("String() = %q", PhaseAliasTableReady.String())
	}
	if Phase(42).String() != "phase(42)" {
		t.Errorf("String() = %q", Phase(42).String())
	}
	if !canAdvance(PhaseResolved, PhaseDone) || !canAdvance(PhaseIdle, PhaseParsed) {
		t.Error("legal transitions rejected")
	}
	if canAdvance(PhaseParsed, PhaseDone) || canAdvance(PhaseInstalled, PhaseAliasTableReady) {
		t.Error("illegal transitions accepted")
	}
}

func TestPlanDoesNotWrite(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Plan(context.Background(), Input{Source: imports.FromText("app.js", "import { Button } from '@scope/widgets';")})
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if res.Phase != PhaseResolved {
		t.Errorf("Phase = %s, want resolved", res.Phase)
	}
	if got, ok := res.AliasTable.Lookup("@scope/widgets"); !ok || got != "/build/modules/widgets/dist/index.js" {
		t.Errorf("Lookup = %q, %v", got, ok)
	}
	if res.AliasTablePath != "" || res.Session != nil {
		t.Error("Plan should not collect or write")
	}
	if _, err := os.Stat(filepath.Join(ws, "build")); !os.IsNotExist(err) {
		t.Errorf("Plan created output, stat err = %v", err)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())
	ctx := context.Background()

	if _, err := o.Run(ctx, Input{Source: imports.FromText("app.js", "import W from '@scope/widgets';")}); err != nil {
		t.Fatal(err)
	}
	if err := o.Clean(ctx); err != nil {
		t.Fatalf("Clean() error: %v", err)
	}
	if _, err := os.Stat(o.OutputRoot()); !os.IsNotExist(err) {
		t.Errorf("output root still present, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "node_modules")); err != nil {
		t.Errorf("workspace content removed: %v", err)
	}

	cfg := testConfig()
	cfg.OutputDir = "."
	unsafe := newOrchestrator(t, ws, cfg)
	if err := unsafe.Clean(ctx); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Clean() of workspace error = %v, want ErrConfiguration", err)
	}
}

func TestRunSymlinkedPackage(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	target := filepath.Join(ws, "packages", "widgets")
	testutil.WriteTree(t, target, widgetsPackage(""))
	link := filepath.Join(ws, "node_modules", "@scope", "widgets")
	testutil.MustMkdirAll(t, filepath.Dir(link))
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Run(context.Background(), Input{Source: imports.FromText("app.js", `import { Button } from "@scope/widgets";`)})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.HasErrors() || res.Stats.FilesCopied == 0 {
		t.Errorf("HasErrors() = %v, FilesCopied = %d", res.HasErrors(), res.Stats.FilesCopied)
	}
	if _, err := os.Stat(filepath.Join(ws, "build", "modules", "widgets", "dist", "index.js")); err != nil {
		t.Errorf("main entry missing from the output: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %q, want none", res.Warnings)
	}
}

func TestRunScopedBaseCollision(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@a/ui", map[string]string{
		"package.json": `{"name": "@a/ui", "main": "a.js"}`,
		"a.js":         "export const A = 1;\n",
	})
	writePackage(t, ws, "@b/ui", map[string]string{
		"package.json": `{"name": "@b/ui", "main": "b.js"}`,
		"b.js":         "export const B = 1;\n",
	})
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Run(context.Background(), Input{
		Source: imports.FromText("app.js", "import { A } from '@a/ui';\nimport { B } from '@b/ui';\n"),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got, _ := res.AliasTable.Lookup("@a/ui"); got != "/build/modules/ui/a.js" {
		t.Errorf("@a/ui -> %q", got)
	}
	if got, ok := res.AliasTable.Lookup("@b/ui"); ok {
		t.Errorf("@b/ui -> %q; a package that was not copied must not be mapped", got)
	}
	if !res.HasErrors() {
		t.Error("HasErrors() = false, want the collision reported")
	}
	if res.Stats.Resolved != 1 || res.Stats.Skipped != 1 || res.Stats.AliasEntries != 1 {
		t.Errorf("Stats = %+v", res.Stats)
	}

	data := testutil.MustReadFile(t, res.AliasTablePath)
	written, err := aliastable.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := written.Lookup("@b/ui"); ok {
		t.Error("written import map maps @b/ui")
	}
}

func TestRunWarnsAboutUncopiedTargets(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(`, "exports": {".": "./dist/index.js", "./types": "./components/button.d.ts"}`))
	o := newOrchestrator(t, ws, testConfig())

	res, err := o.Run(context.Background(), Input{Source: imports.FromText("app.js", "import '@scope/widgets';")})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if _, ok := res.AliasTable.Lookup("@scope/widgets/types"); !ok {
		t.Error("entry for the filtered target should still be emitted")
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "components/button.d.ts") {
		t.Errorf("Warnings = %q, want one naming components/button.d.ts", res.Warnings)
	}
}

func TestRunShortCircuitClearsStaleImportMap(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writePackage(t, ws, "@scope/widgets", widgetsPackage(""))
	o := newOrchestrator(t, ws, testConfig())
	ctx := context.Background()

	first, err := o.Run(ctx, Input{Source: imports.FromText("app.js", "import { Button } from '@scope/widgets';")})
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(ctx, Input{Source: imports.FromText("app.js", "import y from 'lodash';")})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Phase != PhaseDone || res.Session != nil {
		t.Errorf("Phase = %s, Session = %v; want the short-circuit", res.Phase, res.Session)
	}
	if !slices.Equal(res.Changes.Removed, []string{"@scope/widgets"}) {
		t.Errorf("Changes = %+v", res.Changes)
	}

	stale, err := aliastable.Parse(testutil.MustReadFile(t, first.AliasTablePath))
	if err != nil {
		t.Fatal(err)
	}
	if stale.Len() != 0 {
		t.Errorf("import map still has %v", stale.Keys())
	}
}
