// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/modlink/modlink/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// rootFlagValues holds the persistent flags shared by every command.
	rootFlagValues struct {
		configPath string
		workDir    string
		verbose    bool
		format     string
		markdown   bool
	}

	runFunc func(cmd *cobra.Command, args []string) error
)

// NewRootCommand builds the modlink command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}

	rootCmd := &cobra.Command{
		Use:   "modlink",
		Short: "Resolve framework imports and package them for the browser",
		Long: TitleStyle.Render("modlink") + SubtitleStyle.Render(" - build-time module resolver and packager") + `

modlink reads the import declarations of an entry source, finds every
framework package they name, copies the runtime files of those packages
into an output directory and writes an import map for them.

` + SubtitleStyle.Render("Examples:") + `
  modlink build src/main.js         Build the output tree and import map
  modlink resolve src/main.js       Show where each package was found
  modlink importmap --script app.js Print the import map as a script tag
  modlink watch src/main.js         Rebuild on every change
  modlink config init               Create modlink.cue in the project`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is modlink.cue in the workdir, then the user config dir)")
	pf.StringVarP(&flags.workDir, "workdir", "C", "", "project directory (default is the current directory)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&flags.format, "format", string(formatText), "report format: text, json, yaml or toml")
	pf.BoolVar(&flags.markdown, "markdown", false, "render text reports as styled markdown")

	rootCmd.AddCommand(
		newBuildCommand(app, flags),
		newResolveCommand(app, flags),
		newImportsCommand(app, flags),
		newImportMapCommand(app, flags),
		newWatchCommand(app, flags),
		newCleanCommand(app, flags),
		newConfigCommand(app, flags),
	)

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with its exit code. It is called by
// main.main().
func Execute() {
	os.Exit(int(run(context.Background())))
}

// run executes the command tree and maps the outcome to an exit code.
func run(ctx context.Context) types.ExitCode {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		return types.ExitFailure
	}

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	return exitCodeOf(fang.Execute(
		ctx,
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	))
}

// handled wraps a RunE so that failures are rendered with their catalog entry
// and returned as *ExitError with the matching code.
func handled(app *App, run runFunc) runFunc {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil {
			return nil
		}
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		svcErr, code := classifyError(err)
		renderServiceError(app.stderr, svcErr)
		return &ExitError{Code: code, Err: err}
	}
}
