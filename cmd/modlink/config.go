// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modlink/modlink/internal/config"
)

// newConfigCommand creates the `modlink config` command tree.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modlink configuration",
		Long: `Manage modlink configuration.

Configuration is read from, in order:
  - the file given with --config
  - modlink.cue in the project directory
  - config.cue in the user config directory
    (Linux: ~/.config/modlink, macOS: ~/Library/Application Support/modlink,
    Windows: %APPDATA%\modlink)

MODLINK_* environment variables override file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: handled(app, func(cmd *cobra.Command, _ []string) error {
			sess, err := app.newSession(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			return app.emit(flags, report{
				Data:     sess.cfg,
				Text:     func() string { return configText(sess.cfg, sess.configPath) },
				Markdown: func() string { return configMarkdown(sess.cfg, sess.configPath) },
			})
		}),
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create modlink.cue with the default configuration",
		Args:  cobra.NoArgs,
		RunE: handled(app, func(cmd *cobra.Command, _ []string) error {
			workDir, err := resolveWorkDir(flags.workDir)
			if err != nil {
				return err
			}
			written, err := config.WriteProjectFile(workDir, config.DefaultConfig())
			if err != nil {
				return err
			}
			if !written {
				fmt.Fprintf(app.stdout, "%s %s already exists\n", WarningStyle.Render("!"), CmdStyle.Render(config.ProjectFileName))
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(config.ProjectFileName))
			return nil
		}),
	})

	return cfgCmd
}

func configText(cfg *config.Config, path string) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Current Configuration") + "\n\n")

	source := SubtitleStyle.Render("(using defaults)")
	if path != "" {
		source = path
	}
	sb.WriteString(row("config file", source) + "\n")

	value := func(v any) string { return SuccessStyle.Render(fmt.Sprint(v)) }
	list := func(vs []string) string {
		if len(vs) == 0 {
			return SubtitleStyle.Render("(none)")
		}
		return value(strings.Join(vs, ", "))
	}

	sb.WriteString(row("output", value(cfg.OutputDir)))
	sb.WriteString(row("public path", value(cfg.ImportMapBase())))
	sb.WriteString(row("manifest", value(cfg.ManifestName)))
	sb.WriteString(row("import map", value(cfg.AliasTableFile)))
	sb.WriteString(row("scopes", list(cfg.FrameworkScopes)))
	sb.WriteString(row("extensions", list(cfg.IncludeExtensions)))
	sb.WriteString(row("excl. names", list(cfg.ExcludeNames)))
	sb.WriteString(row("excl. dirs", list(cfg.ExcludeDirectories)))
	sb.WriteString(row("exports", value(cfg.ValidateExports)))
	sb.WriteString(row("concurrency", value(cfg.Concurrency)))
	sb.WriteString(row("prune", value(cfg.Prune)))
	sb.WriteString(row("retries", value(cfg.Retries)))
	sb.WriteString(row("log level", value(cfg.LogLevel)))

	sb.WriteString("\n" + renderLabelStyle.Render("search tiers") + "\n")
	for i, t := range cfg.SearchTiers {
		fmt.Fprintf(&sb, "  %d. %s %s\n", i+1, SubtitleStyle.Render("["+string(t.Kind)+"]"), CmdStyle.Render(t.Template))
	}
	return sb.String()
}

func configMarkdown(cfg *config.Config, path string) string {
	var sb strings.Builder
	sb.WriteString("# Current configuration\n\n")
	if path != "" {
		fmt.Fprintf(&sb, "Loaded from `%s`.\n\n", path)
	} else {
		sb.WriteString("Using built-in defaults.\n\n")
	}
	sb.WriteString("```cue\n" + config.GenerateCUE(cfg) + "```\n")
	return sb.String()
}
