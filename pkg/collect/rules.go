// SPDX-License-Identifier: MPL-2.0

package collect

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rules decide which files of a package are copied. Name and directory
// entries are doublestar patterns matched against a single path element.
type Rules struct {
	// IncludeExtensions lists the allowed extensions, with leading dot.
	// Matching is case-insensitive. An empty list allows every extension.
	IncludeExtensions []string `json:"include_extensions" yaml:"include_extensions" toml:"include_extensions"`
	// ExcludeNames lists file name patterns that are never copied.
	ExcludeNames []string `json:"exclude_names" yaml:"exclude_names" toml:"exclude_names"`
	// ExcludeDirectories lists directory name patterns that are not entered.
	ExcludeDirectories []string `json:"exclude_directories" yaml:"exclude_directories" toml:"exclude_directories"`
}

// DefaultRules returns the built-in allow and deny lists.
func DefaultRules() Rules {
	return Rules{
		IncludeExtensions: []string{
			".js", ".mjs", ".cjs", ".json", ".css", ".map", ".html", ".svg",
			".png", ".jpg", ".jpeg", ".gif", ".webp", ".ico",
			".woff", ".woff2", ".ttf", ".otf", ".wasm", ".txt",
		},
		ExcludeNames: []string{
			"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "bun.lockb",
			"LICENSE*", "LICENCE*", "README*", "CHANGELOG*", "HISTORY*",
			".DS_Store", "Thumbs.db", "desktop.ini",
		},
		ExcludeDirectories: []string{
			".git", ".svn", ".hg", "node_modules", ".cache", ".parcel-cache", ".turbo",
			"__pycache__", "test", "tests", "__tests__", "coverage",
		},
	}
}

// Validate checks every pattern and extension.
func (r Rules) Validate() error {
	for _, p := range slices.Concat(r.ExcludeNames, r.ExcludeDirectories) {
		if p == "" || strings.Contains(p, "/") || !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	for _, ext := range r.IncludeExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("invalid extension %q: must start with '.'", ext)
		}
	}
	return nil
}

// Allows reports whether a file with base name name passes the rules.
func (r Rules) Allows(name string) bool {
	if matchAny(r.ExcludeNames, name) {
		return false
	}
	if len(r.IncludeExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	return slices.ContainsFunc(r.IncludeExtensions, func(e string) bool {
		return strings.ToLower(e) == ext
	})
}

// SkipsDir reports whether a directory with base name name is excluded.
func (r Rules) SkipsDir(name string) bool {
	return matchAny(r.ExcludeDirectories, name)
}

// Scan walks root and returns the slash-separated paths, relative to root,
// of every regular file the rules allow, in sorted order. A symlinked root
// (npm link, pnpm, workspaces) is resolved first; symlinks below it are
// never followed or copied.
func Scan(root string, rules Rules) ([]string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	root = resolved

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if rules.SkipsDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !rules.Allows(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
