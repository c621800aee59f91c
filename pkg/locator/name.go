// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"errors"
	"strings"
)

// packageName is a validated package name split into its parts.
// For "@scope/widgets": scope "scope", base "widgets".
// For "lodash": scope "", base "lodash".
type packageName struct {
	full  string
	scope string
	base  string
}

var (
	errEmptyName     = errors.New("package name is empty")
	errNameTraversal = errors.New("package name must not contain '..' segments or backslashes")
	errNameShape     = errors.New("package name must be 'name' or '@scope/name'")
)

func parsePackageName(name string) (packageName, error) {
	if name == "" {
		return packageName{}, errEmptyName
	}
	if strings.Contains(name, `\`) || strings.ContainsRune(name, 0) {
		return packageName{}, errNameTraversal
	}

	parts := strings.Split(name, "/")
	for _, p := range parts {
		if p == ".." || p == "." {
			return packageName{}, errNameTraversal
		}
	}

	switch {
	case strings.HasPrefix(name, "@"):
		if len(parts) != 2 || len(parts[0]) < 2 || parts[1] == "" {
			return packageName{}, errNameShape
		}
		return packageName{full: name, scope: parts[0][1:], base: parts[1]}, nil
	case len(parts) == 1:
		return packageName{full: name, base: name}, nil
	default:
		return packageName{}, errNameShape
	}
}
