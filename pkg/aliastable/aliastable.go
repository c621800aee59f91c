// SPDX-License-Identifier: MPL-2.0

package aliastable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/resolve"
)

type (
	// AliasTable maps import specifiers to output paths.
	AliasTable struct {
		Entries map[string]string `json:"imports" yaml:"imports" toml:"imports"`
		// Warnings lists packages left out and entries whose target is
		// missing from the output. It is never serialized.
		Warnings []string `json:"-" yaml:"-" toml:"-"`
	}

	// Contents reports which files of a package reached the output, as
	// package-relative slash paths. ok is false for a package that was not
	// copied at all. collect.CollectionSession satisfies it.
	Contents interface {
		CopiedFiles(name string) (files []string, ok bool)
	}

	// BuildOption configures Build.
	BuildOption func(*builder)

	builder struct {
		contents Contents
	}

	// Writer persists serialized tables. collect.FileSystem satisfies it.
	Writer interface {
		WriteFile(ctx context.Context, p string, data []byte) error
	}

	// Changes lists the keys that differ between two tables.
	Changes struct {
		Added   []string `json:"added,omitempty" yaml:"added,omitempty" toml:"added,omitempty"`
		Removed []string `json:"removed,omitempty" yaml:"removed,omitempty" toml:"removed,omitempty"`
		Changed []string `json:"changed,omitempty" yaml:"changed,omitempty" toml:"changed,omitempty"`
	}

	// importMap is the on-disk shape of an import map.
	importMap struct {
		Imports map[string]string `json:"imports"`
	}
)

// WithContents checks the table against what was actually copied. Packages
// without contents are left out, since their output directory belongs to
// another package or does not exist. Entries pointing at files that were not
// copied are kept but warned about.
func WithContents(c Contents) BuildOption {
	return func(b *builder) { b.contents = c }
}

// Build creates the table for res with every path rooted at baseOutputDir.
// It reads nothing but its arguments.
func Build(res *resolve.Resolution, baseOutputDir string, opts ...BuildOption) *AliasTable {
	var b builder
	for _, opt := range opts {
		opt(&b)
	}
	t := &AliasTable{Entries: make(map[string]string)}
	if res == nil {
		return t
	}
	for _, name := range res.Names() {
		pkg, _ := res.Package(name)
		if pkg.Manifest == nil {
			continue
		}
		var copied map[string]bool
		if b.contents != nil {
			files, ok := b.contents.CopiedFiles(name)
			if !ok {
				t.Warnings = append(t.Warnings, fmt.Sprintf("%s left out of the import map: its files were not copied", name))
				continue
			}
			copied = make(map[string]bool, len(files))
			for _, f := range files {
				copied[f] = true
			}
		}
		root := imports.ScopedBase(name)
		t.add(name, baseOutputDir, root, pkg.Manifest.MainEntry, copied)
		for _, sub := range pkg.Manifest.ExportNames() {
			target, _ := pkg.Manifest.Export(sub)
			t.add(name+"/"+sub, baseOutputDir, root, target, copied)
		}
	}
	return t
}

// add inserts key and, when copied is known, warns if target is not in it.
func (t *AliasTable) add(key, base, root, target string, copied map[string]bool) {
	t.Entries[key] = JoinURLPath(base, root, target)
	if copied != nil && !copied[target] {
		t.Warnings = append(t.Warnings, fmt.Sprintf("%s points at %s, which was not copied to the output", key, target))
	}
}

// Len returns the number of entries.
func (t *AliasTable) Len() int { return len(t.Entries) }

// Lookup returns the output path for specifier.
func (t *AliasTable) Lookup(specifier string) (string, bool) {
	p, ok := t.Entries[specifier]
	return p, ok
}

// Keys returns the specifiers in sorted order.
func (t *AliasTable) Keys() []string {
	return slices.Sorted(maps.Keys(t.Entries))
}

// MarshalJSON renders the table as an import map: a single "imports"
// object with sorted keys, two-space indentation and a trailing newline.
func (t *AliasTable) MarshalJSON() ([]byte, error) {
	entries := t.Entries
	if entries == nil {
		entries = map[string]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(importMap{Imports: entries}); err != nil {
		return nil, fmt.Errorf("failed to encode import map: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse reads a serialized import map.
func Parse(data []byte) (*AliasTable, error) {
	var m importMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse import map: %w", err)
	}
	if m.Imports == nil {
		m.Imports = make(map[string]string)
	}
	return &AliasTable{Entries: m.Imports}, nil
}

// ScriptTag renders the table as an inline <script type="importmap">
// element.
func (t *AliasTable) ScriptTag() (string, error) {
	data, err := t.MarshalJSON()
	if err != nil {
		return "", err
	}
	body := strings.ReplaceAll(string(data), "</", `<\/`)
	return "<script type=\"importmap\">\n" + body + "</script>\n", nil
}

// WriteFile serializes the table to p through w.
func (t *AliasTable) WriteFile(ctx context.Context, w Writer, p string) error {
	data, err := t.MarshalJSON()
	if err != nil {
		return err
	}
	if err := w.WriteFile(ctx, p, data); err != nil {
		return fmt.Errorf("failed to write import map %s: %w", p, err)
	}
	return nil
}

// Diff compares two tables. A nil table counts as empty.
func Diff(old, updated *AliasTable) Changes {
	var c Changes
	oldEntries, newEntries := entriesOf(old), entriesOf(updated)
	for _, k := range slices.Sorted(maps.Keys(newEntries)) {
		prev, ok := oldEntries[k]
		switch {
		case !ok:
			c.Added = append(c.Added, k)
		case prev != newEntries[k]:
			c.Changed = append(c.Changed, k)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(oldEntries)) {
		if _, ok := newEntries[k]; !ok {
			c.Removed = append(c.Removed, k)
		}
	}
	return c
}

// Empty reports whether the tables were identical.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

func entriesOf(t *AliasTable) map[string]string {
	if t == nil {
		return nil
	}
	return t.Entries
}
