// Package config handles loading and validating TEG bridge configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with TEGBRIDGE_* and legacy PW_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The gateway password and control secret should be set via environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/tegbridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, w := range cfg.Warnings() {
//	    logger.Warn(w)
//	}
package config
