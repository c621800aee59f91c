// SPDX-License-Identifier: MPL-2.0

// Package collect copies the files of resolved packages into the build
// output tree.
//
// Scan enumerates a package directory under include/exclude Rules. A
// Collector copies every surviving file to <dest>/<base>/<relative path>
// through a FileSystem, recording per-file failures instead of stopping.
package collect
