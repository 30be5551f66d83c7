// Package config holds cvsbridge settings.
//
// Settings are layered in this order, later layers winning:
//
//  1. built-in defaults (Default)
//  2. a TOML or YAML file
//  3. CVSBRIDGE_* environment variables
//  4. command-line overrides
//
// Each layer is a nested map merged with loader.DeepMerge before being
// decoded into a Config and validated.
//
// Per-path switches live under scm.paths, keyed by directory:
//
//	[scm.paths."/src/legacy"]
//	enabled = false
//
// Config.Enabled applies the most specific matching entry.
package config
