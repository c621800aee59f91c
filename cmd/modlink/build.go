// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modlink/modlink/internal/build"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/pkg/aliastable"
	"github.com/modlink/modlink/pkg/imports"
)

// buildFlagValues holds the flags shared by the commands that run the
// pipeline.
type buildFlagValues struct {
	output       string
	retries      int
	prune        bool
	declarations string
}

func addSourceFlags(cmd *cobra.Command, bf *buildFlagValues) {
	cmd.Flags().StringVar(&bf.declarations, "declarations", "", "read pre-parsed import declarations (JSON or YAML) instead of the entry file")
}

func addOutputDirFlag(cmd *cobra.Command, bf *buildFlagValues) {
	cmd.Flags().StringVarP(&bf.output, "output", "o", "", "output directory or afs URL (overrides output_dir)")
}

func addOutputFlags(cmd *cobra.Command, bf *buildFlagValues) {
	addOutputDirFlag(cmd, bf)
	cmd.Flags().IntVar(&bf.retries, "retries", 0, "retries when the output directory cannot be created (overrides retries)")
	cmd.Flags().BoolVar(&bf.prune, "prune", false, "remove package directories no longer referenced (overrides prune)")
}

// override applies the flags the user set explicitly.
func (bf *buildFlagValues) override(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("output") {
			cfg.OutputDir = bf.output
		}
		if flags.Changed("retries") {
			cfg.Retries = bf.retries
		}
		if flags.Changed("prune") {
			cfg.Prune = bf.prune
		}
	}
}

func entryArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// newBuildCommand creates the `modlink build` command.
func newBuildCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &buildFlagValues{}
	cmd := &cobra.Command{
		Use:   "build [entry]",
		Short: "Copy the packages an entry imports and write the import map",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = handled(app, func(cmd *cobra.Command, args []string) error {
		sess, err := app.newSession(cmd.Context(), flags, bf.override(cmd))
		if err != nil {
			return err
		}
		src, err := loadSource(sess.workDir, entryArg(args), bf.declarations)
		if err != nil {
			return err
		}
		orch, err := sess.orchestrator()
		if err != nil {
			return err
		}

		res, runErr := orch.Run(cmd.Context(), build.Input{Source: src})
		if res != nil {
			if err := app.emit(flags, buildReport("modlink build", res)); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		return app.finish(flags, res)
	})
	addSourceFlags(cmd, bf)
	addOutputFlags(cmd, bf)
	return cmd
}

// newResolveCommand creates the `modlink resolve` command.
func newResolveCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &buildFlagValues{}
	cmd := &cobra.Command{
		Use:   "resolve [entry]",
		Short: "Show where each framework package is found, without copying",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = handled(app, func(cmd *cobra.Command, args []string) error {
		res, err := app.plan(cmd, flags, bf, args)
		if err != nil {
			return err
		}
		if err := app.emit(flags, report{
			Data:     res,
			Text:     func() string { return resolveText(res) },
			Markdown: func() string { return resolveMarkdown(res) },
		}); err != nil {
			return err
		}
		return app.finish(flags, res)
	})
	addSourceFlags(cmd, bf)
	addOutputDirFlag(cmd, bf)
	return cmd
}

// newImportMapCommand creates the `modlink importmap` command.
func newImportMapCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &buildFlagValues{}
	var script bool
	cmd := &cobra.Command{
		Use:   "importmap [entry]",
		Short: "Print the import map a build would write",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = handled(app, func(cmd *cobra.Command, args []string) error {
		res, err := app.plan(cmd, flags, bf, args)
		if err != nil {
			return err
		}
		table := res.AliasTable
		if table == nil {
			table = &aliastable.AliasTable{Entries: map[string]string{}}
		}

		f, err := parseFormat(flags.format)
		if err != nil {
			return err
		}
		switch {
		case script:
			tag, err := table.ScriptTag()
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, tag)
		case f == formatYAML || f == formatTOML:
			if err := encode(app.stdout, f, table); err != nil {
				return err
			}
		default:
			data, err := table.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, string(data))
		}
		return app.finish(flags, res)
	})
	cmd.Flags().BoolVar(&script, "script", false, `wrap the map in a <script type="importmap"> element`)
	addSourceFlags(cmd, bf)
	addOutputDirFlag(cmd, bf)
	return cmd
}

// newImportsCommand creates the `modlink imports` command.
func newImportsCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &buildFlagValues{}
	cmd := &cobra.Command{
		Use:   "imports [entry]",
		Short: "List the import declarations of an entry and how they are classified",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = handled(app, func(cmd *cobra.Command, args []string) error {
		sess, err := app.newSession(cmd.Context(), flags, nil)
		if err != nil {
			return err
		}
		src, err := loadSource(sess.workDir, entryArg(args), bf.declarations)
		if err != nil {
			return err
		}

		parser := imports.NewParser(imports.WithFrameworkScopes(sess.cfg.FrameworkScopes...))
		decls, parseErrs := src.Declarations(parser)
		r := importsReport{
			Source:      src.Name(),
			Imports:     decls,
			ParseErrors: parseErrs,
			Counts:      imports.CountByCategory(decls),
		}
		if err := app.emit(flags, report{
			Data:     r,
			Text:     func() string { return importsText(r) },
			Markdown: func() string { return importsMarkdown(r) },
		}); err != nil {
			return err
		}
		if len(parseErrs) > 0 {
			return app.finish(flags, &build.Result{ParseErrors: parseErrs, Stats: build.Stats{Imports: r.Counts}})
		}
		return nil
	})
	addSourceFlags(cmd, bf)
	return cmd
}

// newCleanCommand creates the `modlink clean` command.
func newCleanCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &buildFlagValues{}
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the output directory so the next build starts cold",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = handled(app, func(cmd *cobra.Command, _ []string) error {
		sess, err := app.newSession(cmd.Context(), flags, bf.override(cmd))
		if err != nil {
			return err
		}
		orch, err := sess.orchestrator()
		if err != nil {
			return err
		}
		if err := orch.Clean(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "%s Removed %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(orch.OutputRoot()))
		return nil
	})
	addOutputDirFlag(cmd, bf)
	return cmd
}

// plan runs parsing and resolution for the preview commands.
func (a *App) plan(cmd *cobra.Command, flags *rootFlagValues, bf *buildFlagValues, args []string) (*build.Result, error) {
	sess, err := a.newSession(cmd.Context(), flags, bf.override(cmd))
	if err != nil {
		return nil, err
	}
	src, err := loadSource(sess.workDir, entryArg(args), bf.declarations)
	if err != nil {
		return nil, err
	}
	orch, err := sess.orchestrator()
	if err != nil {
		return nil, err
	}
	return orch.Plan(cmd.Context(), build.Input{Source: src})
}

func buildReport(title string, res *build.Result) report {
	return report{
		Data:     res,
		Text:     func() string { return buildText(title, res) },
		Markdown: func() string { return buildMarkdown(title, res) },
	}
}
