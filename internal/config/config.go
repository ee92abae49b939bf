// Package config loads and validates the server-side YAML configuration,
// including the static measurement server registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/netmeasure/speedster/pkg/model"
	"github.com/netmeasure/speedster/pkg/proto"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	// Listen is the address shared by all transfer service instances.
	Listen string `yaml:"listen"`

	// ServerID names the directory entry this process serves. Empty means
	// the first (primary) entry.
	ServerID string `yaml:"server_id"`

	// Workers caps the number of transfer service instances. Zero means
	// min(number of cores, 4).
	Workers int `yaml:"workers"`

	// MaxTransferBytes clamps download and upload sizes.
	MaxTransferBytes int64 `yaml:"max_transfer_bytes"`

	// DefaultDownloadBytes is served when no size parameter is given.
	DefaultDownloadBytes int64 `yaml:"default_download_bytes"`

	// Servers is the static measurement server registry. The first entry
	// is the designated primary.
	Servers []model.TestServer `yaml:"servers"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Listen:               ":8080",
		Workers:              0,
		MaxTransferBytes:     proto.MaxTransferSize,
		DefaultDownloadBytes: proto.DefaultDownloadSize,
		Servers: []model.TestServer{
			{
				ID:          "local-1",
				Name:        "Local Test Server",
				Location:    "Local",
				Country:     "US",
				Coordinates: model.Coordinates{Lat: 40.7128, Lon: -74.0060},
				Host:        "localhost",
				Port:        8080,
				Capacity:    100,
				Status:      model.StatusOnline,
			},
		},
	}
}

// LoadAndValidate reads the configuration at path, writing the defaults there
// first if the file does not exist.
func LoadAndValidate(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.MaxTransferBytes <= 0 {
		c.MaxTransferBytes = proto.MaxTransferSize
	}
	if c.DefaultDownloadBytes <= 0 {
		c.DefaultDownloadBytes = proto.DefaultDownloadSize
	}
	if c.DefaultDownloadBytes > c.MaxTransferBytes {
		c.DefaultDownloadBytes = c.MaxTransferBytes
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: server registry is empty")
	}
	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.ID == "" {
			return fmt.Errorf("config: server #%d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate server id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Status == "" {
			s.Status = model.StatusOnline
		}
	}
	if c.ServerID == "" {
		c.ServerID = c.Servers[0].ID
	} else if !seen[c.ServerID] {
		return fmt.Errorf("config: server_id %q not in registry", c.ServerID)
	}
	return nil
}
