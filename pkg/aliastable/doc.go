// SPDX-License-Identifier: MPL-2.0

// Package aliastable builds the browser import map for a Resolution.
//
// Every resolved package contributes its bare name, mapped to the main
// entry under the output directory, and one "name/sub" key per sub-export.
// Tables are always rebuilt from scratch and serialize deterministically,
// so two builds of the same Resolution produce byte-identical files.
package aliastable
