// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for modlink.
//
// This package implements the Cobra command hierarchy for the modlink CLI:
// building an entry source into an output tree, previewing resolution and
// the import map, watch mode, and configuration management.
package cmd
