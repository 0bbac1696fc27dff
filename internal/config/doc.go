// Package config provides centralized configuration management for the
// onboarding service: the JSON configuration file loaded at startup, with
// defaults applied for anything the operator leaves unset. Secrets are not
// stored in the file; they are referenced by environment variable name.
package config
