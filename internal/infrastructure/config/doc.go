// Package config handles loading and validating NodeLink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading .env files into the environment
//   - Overriding with NODELINK_* environment variables
//   - Validation of required fields
//
// Sensitive values (broker passwords, database DSNs, InfluxDB tokens) should
// be supplied through the environment rather than the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
