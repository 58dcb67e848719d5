// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Name identifies this controller in logs and host registration.
	Name string `mapstructure:"name"`

	Bind struct {
		// Native is the wire-protocol listen address.
		Native string `mapstructure:"native"`
		// HTTP is the /domain-api gateway listen address.
		HTTP string `mapstructure:"http"`
	} `mapstructure:"bind"`

	Persistence struct {
		// Backend selects the persister: memory, file or redis.
		Backend string `mapstructure:"backend"`
		// Path is the configuration file for the file backend.
		Path string `mapstructure:"path"`
		Redis struct {
			Address  string `mapstructure:"address"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"persistence"`

	Domain struct {
		// Endpoint is the domain controller a host registers with.
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"domain"`

	LogLevel string `mapstructure:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Name = "castellan"
	cfg.Bind.Native = "localhost:9999"
	cfg.Bind.HTTP = "localhost:9990"
	cfg.Persistence.Backend = "memory"
	cfg.LogLevel = "info"
	return cfg
}

// Load reads a YAML configuration file over the defaults. The YAML is
// decoded into a generic map first and then mapped onto the struct, so
// unknown keys fail loudly instead of silently vanishing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
