// Package logging provides structured logging for the TEG bridge.
//
// It wraps log/slog so every package logs with the same default fields
// (service, version) and the same level and format handling.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// PW_DEBUG=yes forces the debug level for compatibility with existing
// proxy deployments.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	client.SetLogger(logger.Component("tedapi"))
//
// # Security
//
// Never log the gateway password or the control secret.
package logging
