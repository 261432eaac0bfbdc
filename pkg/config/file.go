package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML configuration file over the defaults, then applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	var split []string
	for _, k := range cfg.SuperAdminKeys {
		split = append(split, SplitPEM(k)...)
	}
	cfg.SuperAdminKeys = split
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
