// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/modlink/modlink/internal/issue"
	"github.com/modlink/modlink/pkg/imports"
)

// errNoEntry is returned when neither an entry file nor a declarations file
// was given.
var errNoEntry = errors.New("an entry file or --declarations is required")

// loadSource reads the build input. A declarations file takes precedence
// over the entry; relative paths are taken from workDir.
func loadSource(workDir, entry, declarationsPath string) (imports.Source, error) {
	if declarationsPath != "" {
		return loadDeclarations(absFrom(workDir, declarationsPath))
	}
	if entry == "" {
		return imports.Source{}, newServiceError(errNoEntry, issue.EntryNotFoundId, styledFailure(errNoEntry))
	}

	path := absFrom(workDir, entry)
	data, err := os.ReadFile(path)
	if err != nil {
		return imports.Source{}, entryError(path, err)
	}
	return imports.FromText(entry, string(data)), nil
}

// loadDeclarations reads pre-parsed declarations. JSON is accepted because
// it is valid YAML.
func loadDeclarations(path string) (imports.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return imports.Source{}, entryError(path, err)
	}

	var decls []imports.Declaration
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return imports.Source{}, fmt.Errorf("failed to decode declarations from %s: %w", path, err)
	}
	return imports.FromDeclarations(filepath.Base(path), decls), nil
}

func entryError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		wrapped := fmt.Errorf("entry file %s not found: %w", path, err)
		return newServiceError(wrapped, issue.EntryNotFoundId, styledFailure(wrapped))
	}
	return fmt.Errorf("failed to read %s: %w", path, err)
}

func absFrom(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
