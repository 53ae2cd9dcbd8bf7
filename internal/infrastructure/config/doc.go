// Package config handles loading and validating mysensorsd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MYSENSORS_*)
//   - Per-gateway defaults (baud rate 115200, TCP port 5003, protocol 2.3)
//   - Validation of required fields and cross-gateway uniqueness
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, gw := range cfg.Gateways {
//	    fmt.Println(gw.ID, gw.Address())
//	}
package config
