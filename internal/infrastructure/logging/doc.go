// Package logging provides structured logging for odin-control.
//
// Records are JSON (the default) or text, carry service and version
// attributes, and go to stdout, stderr or an append-only file:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr or a file path
//
// Components take a narrow Debug/Info/Warn/Error interface, which *Logger
// satisfies, and derive scoped loggers with With:
//
//	log := logging.New(cfg.Logging, version)
//	log.With("adapter", "dummy").Info("initialised")
//
// SetLevel changes the level of a logger and everything derived from it;
// config.Watch uses it to apply edits without a restart. Never log MQTT or
// InfluxDB credentials.
package logging
