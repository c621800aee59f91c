// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers that build package trees for tests and
// fail the test on any filesystem error.
package testutil
