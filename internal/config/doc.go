// SPDX-License-Identifier: MPL-2.0

// Package config handles modlink configuration using Viper with CUE as the file format.
//
// Configuration is read from modlink.cue in the working directory, falling back
// to config.cue in the user configuration directory ($XDG_CONFIG_HOME/modlink on
// Linux). Files are validated against an embedded CUE schema (config_schema.cue)
// before being merged over the defaults. MODLINK_* environment variables override
// individual keys, e.g. MODLINK_OUTPUT_DIR.
package config
