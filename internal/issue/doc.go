// SPDX-License-Identifier: MPL-2.0

// Package issue holds the catalog of build failures modlink explains to its
// users, plus ActionableError, which ties a failed operation to the files it
// touched, concrete next steps and, optionally, a catalog entry.
package issue
