// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/modlink/modlink/internal/build"
	"github.com/modlink/modlink/internal/issue"
	"github.com/modlink/modlink/pkg/collect"
	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/manifest"
	"github.com/modlink/modlink/pkg/types"
)

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
	formatTOML outputFormat = "toml"
)

// errPartial is carried by the ExitError of a build that finished with
// per-package or per-file failures.
var errPartial = errors.New("finished with errors")

type (
	// outputFormat selects how reports are written to stdout.
	outputFormat string

	// report is anything a command prints. Text and Markdown are only used
	// for the text format; machine formats encode Data.
	report struct {
		Data     any
		Text     func() string
		Markdown func() string
	}

	// importsReport is the machine-readable output of the imports command.
	importsReport struct {
		Source      string                `json:"source" yaml:"source" toml:"source"`
		Imports     []imports.Declaration `json:"imports" yaml:"imports" toml:"imports"`
		ParseErrors []*imports.ParseError `json:"parse_errors,omitempty" yaml:"parse_errors,omitempty" toml:"parse_errors,omitempty"`
		Counts      imports.Counts        `json:"counts" yaml:"counts" toml:"counts"`
	}
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case formatText, formatJSON, formatYAML, formatTOML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json, yaml or toml)", s)
	}
}

// encode writes v in a machine format.
func encode(w io.Writer, f outputFormat, v any) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTOML:
		return toml.NewEncoder(w).Encode(v)
	default:
		return fmt.Errorf("format %q is not a machine format", f)
	}
}

// emit prints r according to the root flags.
func (a *App) emit(flags *rootFlagValues, r report) error {
	f, err := parseFormat(flags.format)
	if err != nil {
		return err
	}
	if f != formatText {
		if err := encode(a.stdout, f, r.Data); err != nil {
			return fmt.Errorf("failed to encode %s report: %w", f, err)
		}
		return nil
	}

	if flags.markdown && r.Markdown != nil {
		rendered, err := glamour.Render(r.Markdown(), "dark")
		if err != nil {
			return fmt.Errorf("failed to render markdown report: %w", err)
		}
		fmt.Fprint(a.stdout, rendered)
		return nil
	}
	fmt.Fprint(a.stdout, r.Text())
	return nil
}

// finish turns a partial result into ExitPartial. In verbose mode the catalog
// entries explaining the failures are printed to stderr.
func (a *App) finish(flags *rootFlagValues, res *build.Result) error {
	if flags.verbose {
		for _, id := range resultIssues(res) {
			renderIssue(a.stderr, id)
		}
	}
	if !res.HasErrors() {
		return nil
	}
	if !flags.verbose {
		fmt.Fprintln(a.stderr, renderHintStyle.Render("Some imports could not be linked. Run with --verbose for suggestions."))
	}
	return &ExitError{Code: types.ExitPartial, Err: errPartial}
}

// resultIssues lists the catalog entries relevant to res, without duplicates.
func resultIssues(res *build.Result) []issue.Id {
	var ids []issue.Id
	add := func(id issue.Id) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	if len(res.ParseErrors) > 0 {
		add(issue.ImportParseFailedId)
	}
	if res.Resolution != nil {
		for _, name := range res.Resolution.Unresolved {
			cause := res.Resolution.Cause(name)
			switch {
			case errors.Is(cause, manifest.ErrManifestRead):
				add(issue.ManifestUnreadableId)
			case errors.Is(cause, locator.ErrNotFound):
				add(issue.PackageNotFoundId)
			}
		}
	}
	if res.Session != nil && (res.Session.Failed > 0 || slices.ContainsFunc(res.Session.Results, hasScanError)) {
		add(issue.CopyFailedId)
	}
	if res.Stats.Imports.Framework == 0 {
		add(issue.NoFrameworkImportsId)
	}
	return ids
}

func row(label, value string) string {
	return renderLabelStyle.Render(label) + " " + value + "\n"
}

// buildText renders a Result for the terminal. title names the command.
func buildText(title string, res *build.Result) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(title) + " " + CmdStyle.Render(res.Source) + "\n\n")

	c := res.Stats.Imports
	sb.WriteString(row("imports", fmt.Sprintf("%d framework, %d external, %d local", c.Framework, c.External, c.Local)))
	packages := fmt.Sprintf("%s resolved, %s unresolved",
		SuccessStyle.Render(fmt.Sprint(res.Stats.Resolved)), countStyle(res.Stats.Unresolved).Render(fmt.Sprint(res.Stats.Unresolved)))
	if res.Stats.Skipped > 0 {
		packages += ", " + countStyle(res.Stats.Skipped).Render(fmt.Sprint(res.Stats.Skipped)) + " skipped"
	}
	sb.WriteString(row("packages", packages))
	if res.Session != nil {
		sb.WriteString(row("files", fmt.Sprintf("%d copied, %d failed, %s",
			res.Stats.FilesCopied, res.Stats.FilesFailed, formatBytes(res.Stats.BytesCopied))))
		if len(res.Session.Pruned) > 0 {
			sb.WriteString(row("pruned", strings.Join(res.Session.Pruned, ", ")))
		}
	}
	if res.AliasTable != nil {
		where := SubtitleStyle.Render("(not written)")
		if res.AliasTablePath != "" {
			where = CmdStyle.Render(res.AliasTablePath)
		}
		sb.WriteString(row("import map", fmt.Sprintf("%s, %d entries", where, res.Stats.AliasEntries)))
	}
	if !res.Changes.Empty() {
		sb.WriteString(row("changes", changesText(res)))
	}
	sb.WriteString(row("phase", fmt.Sprintf("%s in %s", res.Phase, res.Stats.Duration.Round(time.Millisecond))))

	for _, e := range res.ParseErrors {
		sb.WriteString(ErrorStyle.Render("✗ ") + e.Error() + "\n")
	}
	if res.Resolution != nil {
		for _, msg := range res.Resolution.Errors {
			sb.WriteString(ErrorStyle.Render("✗ ") + msg + "\n")
		}
	}
	if res.Session != nil {
		for _, cr := range res.Session.Results {
			if cr.ScanError != "" {
				sb.WriteString(ErrorStyle.Render("✗ ") + cr.PackageName + ": " + cr.ScanError + "\n")
			}
		}
		for _, ce := range res.Session.Errors() {
			sb.WriteString(ErrorStyle.Render("✗ ") + ce.Error() + "\n")
		}
	}
	for _, w := range res.AllWarnings() {
		sb.WriteString(WarningStyle.Render("! ") + w + "\n")
	}
	return sb.String()
}

// buildMarkdown renders a Result as a markdown document.
func buildMarkdown(title string, res *build.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s `%s`\n\n", title, res.Source)
	c := res.Stats.Imports
	sb.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&sb, "| imports | %d framework, %d external, %d local |\n", c.Framework, c.External, c.Local)
	fmt.Fprintf(&sb, "| packages | %d resolved, %d unresolved, %d skipped |\n", res.Stats.Resolved, res.Stats.Unresolved, res.Stats.Skipped)
	if res.Session != nil {
		fmt.Fprintf(&sb, "| files | %d copied, %d failed, %s |\n", res.Stats.FilesCopied, res.Stats.FilesFailed, formatBytes(res.Stats.BytesCopied))
	}
	if res.AliasTablePath != "" {
		fmt.Fprintf(&sb, "| import map | `%s` (%d entries) |\n", res.AliasTablePath, res.Stats.AliasEntries)
	}
	fmt.Fprintf(&sb, "| phase | %s in %s |\n", res.Phase, res.Stats.Duration.Round(time.Millisecond))

	if res.AliasTable != nil && res.AliasTable.Len() > 0 {
		sb.WriteString("\n## Import map\n\n")
		for _, k := range res.AliasTable.Keys() {
			v, _ := res.AliasTable.Lookup(k)
			fmt.Fprintf(&sb, "- `%s` → `%s`\n", k, v)
		}
	}

	var problems []string
	for _, e := range res.ParseErrors {
		problems = append(problems, e.Error())
	}
	if res.Resolution != nil {
		problems = append(problems, res.Resolution.Errors...)
	}
	if res.Session != nil {
		for _, ce := range res.Session.Errors() {
			problems = append(problems, ce.Error())
		}
	}
	writeMarkdownList(&sb, "Errors", problems)
	writeMarkdownList(&sb, "Warnings", res.AllWarnings())
	return sb.String()
}

// resolveText renders where each package was found.
func resolveText(res *build.Result) string {
	var sb strings.Builder
	sb.WriteString(buildText("modlink resolve", res))
	if res.Resolution == nil || res.Resolution.IsEmpty() {
		return sb.String()
	}
	sb.WriteString("\n")
	for _, name := range res.Resolution.Names() {
		pkg, _ := res.Resolution.Package(name)
		version := pkg.Manifest.Version
		if version == "" {
			version = "?"
		}
		fmt.Fprintf(&sb, "  %s %s %s %s\n",
			SuccessStyle.Render("✓"),
			CmdStyle.Render(name+"@"+version),
			SubtitleStyle.Render("["+string(pkg.Location.Tier)+"]"),
			VerboseStyle.Render(pkg.Location.Path))
	}
	for _, name := range res.Resolution.Unresolved {
		fmt.Fprintf(&sb, "  %s %s\n", ErrorStyle.Render("✗"), name)
	}
	return sb.String()
}

// resolveMarkdown renders the package table as markdown.
func resolveMarkdown(res *build.Result) string {
	var sb strings.Builder
	sb.WriteString(buildMarkdown("modlink resolve", res))
	if res.Resolution == nil || res.Resolution.IsEmpty() {
		return sb.String()
	}
	sb.WriteString("\n## Packages\n\n| package | version | tier | path | entry |\n|---|---|---|---|---|\n")
	for _, name := range res.Resolution.Names() {
		pkg, _ := res.Resolution.Package(name)
		fmt.Fprintf(&sb, "| `%s` | %s | %s | `%s` | `%s` |\n",
			name, pkg.Manifest.Version, pkg.Location.Tier, pkg.Location.Path, pkg.Manifest.MainEntry)
	}
	return sb.String()
}

// importsText lists parsed declarations grouped by category.
func importsText(r importsReport) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("modlink imports") + " " + CmdStyle.Render(r.Source) + "\n\n")
	if len(r.Imports) == 0 {
		sb.WriteString(SubtitleStyle.Render("  (no import declarations)") + "\n")
	}
	for _, d := range r.Imports {
		fmt.Fprintf(&sb, "  %s %s %s\n",
			SubtitleStyle.Render(fmt.Sprintf("%4d", d.Line)),
			categoryStyle(d.Category).Render(fmt.Sprintf("%-9s", d.Category)),
			d.String())
	}
	sb.WriteString("\n" + row("total", fmt.Sprintf("%d framework, %d external, %d local",
		r.Counts.Framework, r.Counts.External, r.Counts.Local)))
	for _, e := range r.ParseErrors {
		sb.WriteString(ErrorStyle.Render("✗ ") + e.Error() + "\n")
	}
	return sb.String()
}

func importsMarkdown(r importsReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# modlink imports `%s`\n\n| line | category | declaration |\n|---|---|---|\n", r.Source)
	for _, d := range r.Imports {
		fmt.Fprintf(&sb, "| %d | %s | `%s` |\n", d.Line, d.Category, d.String())
	}
	var problems []string
	for _, e := range r.ParseErrors {
		problems = append(problems, e.Error())
	}
	writeMarkdownList(&sb, "Errors", problems)
	return sb.String()
}

func writeMarkdownList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
}

func changesText(res *build.Result) string {
	ch := res.Changes
	return fmt.Sprintf("%s %s %s",
		SuccessStyle.Render(fmt.Sprintf("+%d", len(ch.Added))),
		ErrorStyle.Render(fmt.Sprintf("-%d", len(ch.Removed))),
		WarningStyle.Render(fmt.Sprintf("~%d", len(ch.Changed))))
}

func hasScanError(cr *collect.CopyResult) bool { return cr.ScanError != "" }

func countStyle(n int) lipgloss.Style {
	if n > 0 {
		return ErrorStyle
	}
	return SubtitleStyle
}

func categoryStyle(c imports.Category) lipgloss.Style {
	switch c {
	case imports.CategoryFramework:
		return SuccessStyle
	case imports.CategoryExternal:
		return CmdStyle
	default:
		return SubtitleStyle
	}
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
