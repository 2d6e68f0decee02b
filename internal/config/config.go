package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models ouvidoria.yml.
type Config struct {
	Service struct {
		LegalWindowDays int    `yaml:"legal_window_days"`
		DefaultPriority string `yaml:"default_priority"`
	} `yaml:"service"`
	Intake struct {
		// Channels, when non-empty, is the catalog of accepted submission
		// channels; intake on an unlisted channel is rejected.
		Channels []string `yaml:"channels"`
	} `yaml:"intake"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

var priorities = map[string]bool{"low": true, "medium": true, "high": true}

// Default returns the built-in configuration: a 20 calendar-day legal
// response window and medium priority, with an open channel catalog.
func Default() *Config {
	var c Config
	c.Service.LegalWindowDays = 20
	c.Service.DefaultPriority = "medium"
	c.Server.Addr = "127.0.0.1:8080"
	c.Server.BasePath = "/v0"
	return &c
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ouvidoria.yml")
}

// Load reads config from the workspace, falling back to defaults when no
// file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config, filling unset fields from defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.LegalWindowDays <= 0 {
		return fmt.Errorf("config.service.legal_window_days must be positive")
	}
	if !priorities[c.Service.DefaultPriority] {
		return fmt.Errorf("config.service.default_priority must be low, medium or high")
	}
	for _, ch := range c.Intake.Channels {
		if ch == "" {
			return fmt.Errorf("config.intake.channels contains empty channel")
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	return nil
}

// ChannelAllowed reports whether a submission channel is accepted.
func (c *Config) ChannelAllowed(channel string) bool {
	if len(c.Intake.Channels) == 0 {
		return true
	}
	for _, ch := range c.Intake.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}
