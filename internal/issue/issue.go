// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	InvalidSearchTiersId
	EntryNotFoundId
	ImportParseFailedId
	PackageNotFoundId
	ManifestUnreadableId
	NoFrameworkImportsId
	CopyFailedId
	OutputNotWritableId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation for this issue type
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	var extra strings.Builder
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extra.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			extra.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			extra.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(string(i.mdMsg)+extra.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

modlink reads ` + "`modlink.cue`" + ` from the working directory, then
` + "`config.cue`" + ` from the user configuration directory.

## Things you can try:
- Check the file for CUE syntax errors and unknown fields
- Show the effective configuration:
~~~
$ modlink config show
~~~
- Write a fresh project file with every default spelled out:
~~~
$ modlink config init
~~~`,
	}

	invalidSearchTiersIssue = &Issue{
		id: InvalidSearchTiersId,
		mdMsg: `
# Invalid search tiers!

Every tier needs a kind (` + "`framework`, `workspace` or `cache`" + `) and a
directory template containing ` + "`{name}` or `{base}`" + `.

## Example:
~~~cue
search_tiers: [
	{kind: "framework", template: "${MODLINK_FRAMEWORK_DIR:-/usr/local/share/modlink}/packages/{base}"},
	{kind: "workspace", template: "{workspace}/node_modules/{name}"},
]
~~~`,
	}

	entryNotFoundIssue = &Issue{
		id: EntryNotFoundId,
		mdMsg: `
# Entry file not found!

The source file whose imports should be resolved does not exist.

## Things you can try:
- Pass the path of your entry module, relative to the working directory:
~~~
$ modlink build src/main.js
~~~`,
	}

	importParseFailedIssue = &Issue{
		id: ImportParseFailedId,
		mdMsg: `
# Some import statements could not be parsed

Imports are read one line at a time. An import clause spread over several
lines is reported and skipped.

## Things you can try:
- Put each import statement on a single line:
~~~js
import { Button, Card } from "@scope/widgets";
~~~`,
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# Package not found!

A framework package is not installed in any search tier. A tier only counts
when its directory contains a ` + "`package.json`" + `.

## Things you can try:
- Install the package into the workspace:
~~~
$ npm install @scope/widgets
~~~
- List the directories modlink searches:
~~~
$ modlink config show
~~~
- Install the package, then rebuild. Watch mode forgets located packages whenever a manifest changes:
~~~
$ modlink watch src/main.js
~~~`,
	}

	manifestUnreadableIssue = &Issue{
		id: ManifestUnreadableId,
		mdMsg: `
# Package manifest unreadable!

The package directory was found but its manifest is missing or is not valid JSON.

## Things you can try:
- Reinstall the package
- Validate the manifest:
~~~
$ node -e 'require("./node_modules/@scope/widgets/package.json")'
~~~`,
	}

	noFrameworkImportsIssue = &Issue{
		id: NoFrameworkImportsId,
		mdMsg: `
# Nothing to link

The entry file has no framework imports, so no packages were copied and no
import map was written. This is not an error.

## Things you can try:
- Check that the entry imports scoped packages such as ` + "`@scope/widgets`" + `
- If you restrict ` + "`framework_scopes`" + `, make sure the scope is listed`,
	}

	copyFailedIssue = &Issue{
		id: CopyFailedId,
		mdMsg: `
# Some files could not be copied

Every other file was copied. The failed files are listed in the report.

## Things you can try:
- Check free disk space and permissions of the output directory
- Run the build again with ` + "`--verbose`" + ` for the full error chain`,
	}

	outputNotWritableIssue = &Issue{
		id: OutputNotWritableId,
		mdMsg: `
# Output directory not writable!

The build output directory could not be created or written.

## Things you can try:
- Pick another directory:
~~~
$ modlink build src/main.js --output dist/modules
~~~
- Retry transient storage failures:
~~~
$ modlink build src/main.js --retries 3
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

modlink could not read a package or write to the output directory.

## Things you can try:
- Check the ownership of the package and output directories
- Avoid running builds as a different user than the one who installed packages`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		invalidSearchTiersIssue.Id(): invalidSearchTiersIssue,
		entryNotFoundIssue.Id():      entryNotFoundIssue,
		importParseFailedIssue.Id():  importParseFailedIssue,
		packageNotFoundIssue.Id():    packageNotFoundIssue,
		manifestUnreadableIssue.Id(): manifestUnreadableIssue,
		noFrameworkImportsIssue.Id(): noFrameworkImportsIssue,
		copyFailedIssue.Id():         copyFailedIssue,
		outputNotWritableIssue.Id():  outputNotWritableIssue,
		permissionDeniedIssue.Id():   permissionDeniedIssue,
	}
)

func Values() []*Issue {
	return slices.Collect(maps.Values(issues))
}

func Get(id Id) *Issue {
	return issues[id]
}
