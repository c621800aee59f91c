// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/modlink/modlink/pkg/types"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2025-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2025-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "dev"

		got := getVersionString()
		want := "dev (built from source)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	app, err := NewApp(Dependencies{})
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	root := NewRootCommand(app)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"build", "resolve", "imports", "importmap", "watch", "clean", "config"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing subcommand %q in %v", want, names)
		}
	}
	for _, flag := range []string{"config", "workdir", "verbose", "format", "markdown"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}

	buildCmd, _, err := root.Find([]string{"build"})
	if err != nil {
		t.Fatal(err)
	}
	for _, flag := range []string{"output", "retries", "prune", "declarations"} {
		if buildCmd.Flags().Lookup(flag) == nil {
			t.Errorf("build is missing --%s", flag)
		}
	}

	watchCmd, _, err := root.Find([]string{"watch"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"node_modules", "framework or cache search tiers", "restart watch"} {
		if !strings.Contains(watchCmd.Long, want) {
			t.Errorf("watch help should mention %q:\n%s", want, watchCmd.Long)
		}
	}
}

func TestExitCodeOf(t *testing.T) {
	t.Parallel()

	partial := &ExitError{Code: types.ExitPartial, Err: errPartial}
	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{"nil", nil, types.ExitOK},
		{"partial", partial, types.ExitPartial},
		{"wrapped config", fmt.Errorf("fang: %w", &ExitError{Code: types.ExitConfig}), types.ExitConfig},
		{"unknown flag", errors.New("unknown flag: --bogus"), types.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCodeOf(tt.err); got != tt.want {
				t.Errorf("exitCodeOf(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
	if got := (&ExitError{Code: types.ExitConfig}).Error(); got != "modlink exited with status 78" {
		t.Errorf("Error() without cause = %q", got)
	}
}
