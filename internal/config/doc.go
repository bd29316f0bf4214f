// Package config loads, normalizes, and validates cinesync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, applies a local .env file, and honours
// environment fallbacks such as TMDB_API_KEY and TMDB_BEARER_TOKEN. The Config
// type centralizes the provider budget, retry policy, catalog backend, and
// review locations so the CLI and server discover them in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
