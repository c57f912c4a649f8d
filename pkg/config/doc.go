// Package config provides configuration management for Tollgate.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("tollgate.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tollgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD
// and are processed with envconfig. For example:
//
//   - TOLLGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TOLLGATE_STORAGE_BACKEND overrides storage.backend
//   - TOLLGATE_INGRESS_FAIL_MODE overrides ingress.fail_mode
//   - TOLLGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// List-valued sections (seed budgets, weight breakpoints) are file-only.
//
// # Configuration Precedence
//
// Values are applied in the following order (later overrides earlier):
//
//  1. Default values (see defaults.go)
//  2. YAML configuration file
//  3. Environment variables
//
// # Validation
//
// All configuration is validated after loading. Validation collects every
// failing field into a single ValidationError:
//
//	configuration validation failed with 2 errors:
//	  - storage.backend: must be one of: memory, sqlite
//	  - ingress.fail_mode: must be one of: open, closed
//
// # Global Configuration
//
// For convenience, a global singleton is available via Initialize and
// GetConfig. Tests should prefer passing explicit *Config values.
package config
