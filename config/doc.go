// Package config loads the bridge configuration.
//
// A configuration is built from defaults, then zero or more files applied
// in order, then AASBRIDGE_* environment variables. Files ending in .yaml
// or .yml are decoded as YAML, everything else as JSON. A layer only
// overrides the fields it names, so a small file on top of a base file
// changes just what it mentions:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.json")
//	loader.AddLayer("configs/site.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Durations accept Go syntax ("1.5s", "10m") and a days suffix ("7d").
package config
