// Package config handles application configuration loading and validation.
//
// Configuration is loaded from config.yml, overridden by GTFS_INGEST_*
// environment variables and validated using struct tags. Besides feeds and
// server settings it carries named pipeline definitions: ordered lists of
// registry stage keys with optional parallelism and queue sizes.
package config
