// SPDX-License-Identifier: MPL-2.0

// Package imports scans widget source text for ES module import declarations.
//
// Parsing is line oriented: every declaration must fit on a single line.
// An import whose clause spills over several lines is reported as a
// [ParseError] on its opening line and its continuation lines are ignored.
// This keeps the scanner free of any tokenizer state beyond block comments.
//
// Each declaration is classified at parse time from the lexical form of its
// specifier alone:
//
//   - "@scope/name[/subpath]"  framework (resolved by modlink)
//   - "./x", "../x", "/x"      local (left to the bundler)
//   - anything else            external (left to the browser or CDN)
package imports
