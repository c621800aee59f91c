// SPDX-License-Identifier: MPL-2.0

// Package types holds small value types shared by the CLI and the build
// packages. It imports only the standard library.
package types
