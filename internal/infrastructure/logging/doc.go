// Package logging provides structured logging for targetd.
//
// It wraps log/slog so every component logs with the same handler and
// default fields (service, version). Components receive a child logger
// via Component and depend only on a small Debug/Info/Warn/Error interface.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log JWT secrets, MQTT passwords or InfluxDB tokens.
package logging
