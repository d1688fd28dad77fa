// Package config handles loading and validating odin-control configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ODIN_*)
//   - Validation of required fields, reporting every problem at once
//   - Watching the file for runtime changes
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// The adapter list is read once at startup; its order is the registration
// order. Watch delivers later edits, of which only the log level is
// applied to a running server.
//
// Usage:
//
//	cfg, err := config.Load("config/odin.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, a := range cfg.Adapters {
//	    fmt.Println(a.Name, a.Kind)
//	}
package config
