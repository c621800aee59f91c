// SPDX-License-Identifier: MPL-2.0

// Package resolve turns parsed import declarations into a Resolution: the
// set of framework packages found on disk together with their manifests.
//
// Resolution tolerates partial failure. A package that cannot be located or
// whose manifest cannot be read is recorded as unresolved with one error
// message, and every other package is still resolved.
package resolve
