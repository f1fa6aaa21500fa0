package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML layout for the watcher.
type fileConfig struct {
	Identifier       string   `toml:"identifier"`
	Relays           []string `toml:"relays"`
	StatsBaseURL     string   `toml:"stats_base_url"`
	VerifySignatures bool     `toml:"verify_signatures"`
	LogLevel         string   `toml:"log_level"`

	Feed struct {
		InitialLoad    int `toml:"initial_load"`
		AdditionalLoad int `toml:"additional_load"`
	} `toml:"feed"`

	Timeouts struct {
		Reference  duration `toml:"reference"`
		Pagination duration `toml:"pagination"`
	} `toml:"timeouts"`
}

// duration lets TOML carry values like "20s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
