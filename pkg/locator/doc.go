// SPDX-License-Identifier: MPL-2.0

// Package locator finds package directories on disk.
//
// A Locator walks an ordered list of search tiers (framework install,
// workspace node_modules, user cache) and returns the first directory that
// holds a package manifest. Hits are memoized per package name until
// ClearCache is called; concurrent lookups of the same name share one search.
package locator
