// SPDX-License-Identifier: MPL-2.0

// Package manifest reads package manifest descriptors (package.json) and
// reduces them to what the alias table needs: a version, a main entry and a
// table of named sub-exports, all with normalized relative paths.
package manifest
