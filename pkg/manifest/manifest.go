// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/modlink/modlink/pkg/cueutil"

	"golang.org/x/mod/semver"
)

const (
	// DefaultFileName is the manifest descriptor looked for in every package.
	DefaultFileName = "package.json"

	// DefaultMainEntry is used when a manifest declares no entry point.
	DefaultMainEntry = "index.js"

	rootExport = "."
)

// conditionOrder lists the export conditions modlink honors, most preferred
// first. Everything targets the browser, so "require" and "node" never match.
var conditionOrder = []string{"browser", "import", "module", "default"}

//go:embed manifest_schema.cue
var manifestSchema []byte

// ErrManifestRead is the sentinel wrapped by ReadError.
var ErrManifestRead = errors.New("manifest unreadable")

type (
	// PackageManifest is the reduced view of a package manifest. It is not
	// modified after Load returns it.
	PackageManifest struct {
		// PackageName is the "name" field; empty when the manifest omits it.
		PackageName string `json:"name" yaml:"name" toml:"name"`
		// Version is the "version" field, possibly empty.
		Version string `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
		// MainEntry is the normalized relative path of the default entry file.
		MainEntry string `json:"main" yaml:"main" toml:"main"`
		// Exports maps sub-export names (without "./") to normalized paths.
		// The root export is folded into MainEntry and never appears here.
		Exports map[string]string `json:"exports,omitempty" yaml:"exports,omitempty" toml:"exports,omitempty"`
		// Symbols is the optional explicit list of named exports.
		Symbols []string `json:"symbols,omitempty" yaml:"symbols,omitempty" toml:"symbols,omitempty"`
		// Warnings are non-fatal oddities found while reading.
		Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty" toml:"warnings,omitempty"`
	}

	// ReadError reports a manifest that is missing or is not valid
	// structured data.
	ReadError struct {
		Path string
		Err  error
	}

	// Reader loads manifests with a configurable descriptor file name.
	Reader struct {
		fileName string
	}

	// manifestFile mirrors the fields of package.json modlink reads.
	manifestFile struct {
		Name    string   `json:"name"`
		Version string   `json:"version"`
		Main    string   `json:"main"`
		Module  string   `json:"module"`
		Browser any      `json:"browser"`
		Exports any      `json:"exports"`
		Symbols []string `json:"symbols"`
	}
)

// Error implements the error interface.
func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read manifest %s: %v", e.Path, e.Err)
}

// Unwrap returns both ErrManifestRead and the underlying cause.
func (e *ReadError) Unwrap() []error { return []error{ErrManifestRead, e.Err} }

// NewReader returns a Reader for descriptors named fileName. An empty name
// selects DefaultFileName.
func NewReader(fileName string) *Reader {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &Reader{fileName: fileName}
}

// FileName returns the descriptor file name the reader looks for.
func (r *Reader) FileName() string { return r.fileName }

// Load reads the default descriptor in dir.
func Load(dir string) (*PackageManifest, error) {
	return NewReader("").Load(dir)
}

// Load reads and reduces the manifest descriptor in package directory dir.
func (r *Reader) Load(dir string) (*PackageManifest, error) {
	path := filepath.Join(dir, r.fileName)

	res, err := cueutil.ParseFile[manifestFile](manifestSchema, path, "#Manifest")
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	return reduce(res.Value), nil
}

// Parse reduces manifest bytes; filename is used in error messages only.
func Parse(data []byte, filename string) (*PackageManifest, error) {
	res, err := cueutil.ParseAndDecode[manifestFile](manifestSchema, data, "#Manifest", cueutil.WithFilename(filename))
	if err != nil {
		return nil, &ReadError{Path: filename, Err: err}
	}
	return reduce(res.Value), nil
}

func reduce(f *manifestFile) *PackageManifest {
	m := &PackageManifest{
		PackageName: f.Name,
		Version:     f.Version,
		Symbols:     slices.Clone(f.Symbols),
	}

	if f.Version != "" && !semver.IsValid("v"+strings.TrimPrefix(f.Version, "v")) {
		m.Warnings = append(m.Warnings, fmt.Sprintf("version %q is not a valid semantic version", f.Version))
	}

	root := m.readExports(f.Exports)

	browser, _ := f.Browser.(string)
	switch {
	case root != "":
		m.MainEntry = root
	case f.Module != "":
		m.MainEntry = f.Module
	case browser != "":
		m.MainEntry = browser
	case f.Main != "":
		m.MainEntry = f.Main
	default:
		m.MainEntry = DefaultMainEntry
	}
	m.MainEntry = NormalizeEntry(m.MainEntry, false)

	return m
}

// readExports fills m.Exports from the "exports" field and returns the root
// export path, if any.
func (m *PackageManifest) readExports(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if !hasSubpathKeys(v) {
			// A bare condition object describes the root export only.
			target, _ := pickCondition(v)
			return target
		}

		var root string
		for _, key := range slices.Sorted(maps.Keys(v)) {
			target, ok := pickCondition(v[key])
			if !ok {
				m.Warnings = append(m.Warnings, fmt.Sprintf("export %q has no browser-compatible target", key))
				continue
			}
			name := strings.TrimPrefix(key, "./")
			switch {
			case key == rootExport:
				root = target
			case strings.Contains(key, "*"):
				m.Warnings = append(m.Warnings, fmt.Sprintf("wildcard export %q is not supported", key))
			case name == "" || strings.HasPrefix(name, "/"):
				m.Warnings = append(m.Warnings, fmt.Sprintf("export key %q is not a subpath", key))
			default:
				if m.Exports == nil {
					m.Exports = make(map[string]string)
				}
				m.Exports[name] = NormalizeEntry(target, false)
			}
		}
		return root
	}
	return ""
}

// pickCondition resolves an export target to a path, descending into
// condition objects in conditionOrder.
func pickCondition(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		for _, cond := range conditionOrder {
			if next, ok := v[cond]; ok {
				if target, ok := pickCondition(next); ok {
					return target, true
				}
			}
		}
	}
	return "", false
}

func hasSubpathKeys(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, ".") {
			return true
		}
	}
	return false
}

// ExportNames returns the sub-export names in sorted order.
func (m *PackageManifest) ExportNames() []string {
	return slices.Sorted(maps.Keys(m.Exports))
}

// Export returns the path of the named sub-export.
func (m *PackageManifest) Export(name string) (string, bool) {
	p, ok := m.Exports[name]
	return p, ok
}

// HasExport reports whether name matches a declared symbol or a sub-export.
// Sub-export names are compared ignoring case, "-" and "_", so the symbol
// DatePicker matches the sub-export "date-picker".
func (m *PackageManifest) HasExport(name string) bool {
	if len(m.Symbols) > 0 {
		return slices.Contains(m.Symbols, name)
	}
	want := foldExportName(name)
	for sub := range m.Exports {
		if foldExportName(sub) == want || foldExportName(strings.TrimSuffix(sub, filepath.Ext(sub))) == want {
			return true
		}
	}
	return false
}

// CanValidate reports whether the manifest carries enough information for
// symbol validation.
func (m *PackageManifest) CanValidate() bool {
	return len(m.Symbols) > 0 || len(m.Exports) > 0
}

func foldExportName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, "_", "")
}
