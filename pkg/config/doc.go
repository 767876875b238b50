// Package config loads, validates and holds the governor configuration.
//
// Configuration is read from a YAML file, completed with defaults and then
// overridden from the environment. Environment variables follow the naming
// convention GOVERNOR_SECTION_FIELD, resolved through viper:
//
//   - GOVERNOR_LEDGER_BACKEND overrides ledger.backend
//   - GOVERNOR_LEDGER_REDIS_ADDR overrides ledger.redis.addr
//   - GOVERNOR_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// An empty path skips the file, so a governor can run on defaults and
// environment alone.
//
// For process-wide access, Initialize once at startup and read with
// GetConfig. Tests should pass a *Config explicitly instead.
package config
