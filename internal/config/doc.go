// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to the settings of the queue, registry, HTTP server, logger and task
// archive while keeping configuration details separate from dispatch logic.
package config
