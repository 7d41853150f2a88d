// Package config handles loading and validating knxaccess configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files (chosen by extension)
//   - Overriding with KNXACCESS_* environment variables
//   - Validation of required fields, addresses and datapoint types
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/knxaccess.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.KNX.KNXD.Connection)
//
// Example (YAML):
//
//	knx:
//	  transport: knxd
//	  source: "1.1.250"
//	  knxd:
//	    connection: "unix:///run/knxd"
//	datapoints:
//	  - { address: "1/2/3", dpt: "1.001", name: "Kitchen light" }
//	  - { address: "0/4/2", dpt: "9.001", name: "Kitchen temperature" }
package config
