// Package logging provides structured logging for mysensorsd.
//
// It wraps log/slog so every entry carries the service name and build
// version. JSON is the default format; text is available for development.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	gwLog := logger.Component("gateway").ForGateway("serial-1")
//	gwLog.Warn("ack timeout", "node_id", 5, "child_id", 1)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
