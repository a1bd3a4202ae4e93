// Package config loads, validates and hot-reloads the daemon configuration.
//
// Files are JSON or YAML (by extension); YAML is converted to JSON and both are
// decoded strictly, so unknown keys are errors.
package config
