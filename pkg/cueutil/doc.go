// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes schema-checked documents with CUE.
//
// Both package manifests (package.json) and the modlink configuration file go
// through the same three steps:
//
//  1. Compile the embedded schema
//  2. Compile the document and unify it with the schema definition
//  3. Validate and decode into a Go struct
//
// JSON is a subset of CUE, so a package.json can be fed straight into
// [ParseAndDecode] without a separate JSON pass:
//
//	//go:embed manifest_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[manifestFile](schema, data, "#Manifest",
//	    cueutil.WithFilename(path))
package cueutil
