// Package config loads and validates the postbox TOML configuration.
//
// Values in the ${VAR} syntax are expanded from the environment before
// parsing, so secrets like the Matrix access token can stay out of the
// file. Missing optional fields get defaults; missing required fields
// fail Load with a message naming the field.
package config
