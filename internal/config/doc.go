// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// The values section is a free-form key/value provider read by components that
// look settings up by name, such as the default relay URI.
package config
