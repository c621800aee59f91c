// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modlink/modlink/internal/build"
	"github.com/modlink/modlink/internal/watch"
	"github.com/modlink/modlink/pkg/aliastable"
	"github.com/modlink/modlink/pkg/collect"
)

type watchFlagValues struct {
	patterns    []string
	ignore      []string
	debounce    time.Duration
	clearScreen bool
}

// newWatchCommand creates the `modlink watch` command.
func newWatchCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &buildFlagValues{}
	wf := &watchFlagValues{}
	cmd := &cobra.Command{
		Use:   "watch [entry]",
		Short: "Build, then rebuild whenever the entry or an installed package changes",
		Long: `Build once, then watch the project and rebuild on change.

Editing the entry rebuilds it. A changed manifest file means a package was
installed, removed or upgraded, so every cached package location is
forgotten before the rebuild. Build output is never watched.

Only the working directory is watched, node_modules included. Packages
installed into the framework or cache search tiers live outside it and are
not noticed; restart watch after installing there.`,
		Args: cobra.MaximumNArgs(1),
	}
	cmd.RunE = handled(app, func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, app, flags, bf, wf, entryArg(args))
	})
	addSourceFlags(cmd, bf)
	addOutputFlags(cmd, bf)
	cmd.Flags().StringSliceVar(&wf.patterns, "pattern", nil, "doublestar globs of other files that trigger a rebuild (default all)")
	cmd.Flags().StringSliceVar(&wf.ignore, "ignore", nil, "extra doublestar globs to ignore")
	cmd.Flags().DurationVar(&wf.debounce, "debounce", 0, "quiet period before a rebuild (default 300ms)")
	cmd.Flags().BoolVar(&wf.clearScreen, "clear", false, "clear the terminal before each rebuild")
	return cmd
}

func runWatch(cmd *cobra.Command, app *App, flags *rootFlagValues, bf *buildFlagValues, wf *watchFlagValues, entry string) error {
	sess, err := app.newSession(cmd.Context(), flags, bf.override(cmd))
	if err != nil {
		return err
	}
	// Fail fast on a missing entry before anything is watched.
	if _, err := loadSource(sess.workDir, entry, bf.declarations); err != nil {
		return err
	}
	orch, err := sess.orchestrator()
	if err != nil {
		return err
	}

	var previous *aliastable.AliasTable
	rebuild := func(ctx context.Context) {
		src, err := loadSource(sess.workDir, entry, bf.declarations)
		if err != nil {
			fmt.Fprintf(app.stderr, "%s %v\n", WarningStyle.Render("!"), err)
			return
		}
		res, err := orch.Run(ctx, build.Input{Source: src, Previous: previous})
		if res != nil {
			if emitErr := app.emit(flags, buildReport("modlink build", res)); emitErr != nil {
				fmt.Fprintf(app.stderr, "%s %v\n", WarningStyle.Render("!"), emitErr)
			}
			if res.AliasTable != nil {
				previous = res.AliasTable
			}
			if !res.Changes.Empty() {
				fmt.Fprint(app.stdout, changesDetail(res))
			}
		}
		if err != nil {
			// The user may fix the problem and save again.
			fmt.Fprintf(app.stderr, "%s Build failed: %v\n", WarningStyle.Render("!"), err)
		}
	}

	fmt.Fprintf(app.stdout, "%s Watch mode: initial build\n", VerboseHighlightStyle.Render("→"))
	rebuild(cmd.Context())
	fmt.Fprintf(app.stdout, "\n%s Watching for changes (Ctrl+C to stop)...\n\n", VerboseHighlightStyle.Render("→"))

	watchEntry := entry
	if bf.declarations != "" {
		watchEntry = bf.declarations
	}
	outputDir := ""
	if !collect.IsURL(orch.OutputRoot()) {
		outputDir = orch.OutputRoot()
	}

	w, err := watch.New(watch.Config{
		BaseDir:      sess.workDir,
		Entry:        watchEntry,
		ManifestName: sess.cfg.ManifestName,
		OutputDir:    outputDir,
		Patterns:     wf.patterns,
		Ignore:       wf.ignore,
		Debounce:     wf.debounce,
		ClearScreen:  wf.clearScreen,
		Stdout:       app.stdout,
		Logger:       sess.logger.WithPrefix("watch"),
		OnChange: func(ctx context.Context, b watch.Batch) error {
			if b.ManifestsChanged() {
				sess.logger.Debug("manifests changed, clearing package cache", "manifests", b.Manifests)
				orch.ClearCache()
			}
			fmt.Fprintf(app.stdout, "%s Detected %d change(s), rebuilding...\n",
				VerboseHighlightStyle.Render("→"), len(b.All()))
			rebuild(ctx)
			fmt.Fprintf(app.stdout, "\n%s Watching for changes...\n\n", VerboseHighlightStyle.Render("→"))
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	return w.Run(cmd.Context())
}

// changesDetail lists the import map keys a rebuild touched.
func changesDetail(res *build.Result) string {
	var sb strings.Builder
	for _, k := range res.Changes.Added {
		sb.WriteString("  " + SuccessStyle.Render("+ "+k) + "\n")
	}
	for _, k := range res.Changes.Removed {
		sb.WriteString("  " + ErrorStyle.Render("- "+k) + "\n")
	}
	for _, k := range res.Changes.Changed {
		sb.WriteString("  " + WarningStyle.Render("~ "+k) + "\n")
	}
	return sb.String()
}
