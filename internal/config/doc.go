// Package config loads the adapter configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as database passwords stay out of the file. Optional fields
// receive defaults; Validate reports the first invalid field by its dotted
// YAML path.
package config
