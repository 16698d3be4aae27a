// Package config loads the curator daemon configuration from a YAML file,
// applies defaults for everything the operator left unset, and resolves
// secrets (API keys, bearer tokens) from environment variables so they never
// have to live in the file itself.
package config
