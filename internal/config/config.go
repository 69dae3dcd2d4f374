// Package config loads and validates the station configuration.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the top-level station configuration.
type Config struct {
	Server   ServerConfig    `toml:"server"`
	Logging  LoggingConfig   `toml:"logging"`
	Pacing   PacingConfig    `toml:"pacing"`
	Metrics  MetricsConfig   `toml:"metrics"`
	Storage  StorageConfig   `toml:"storage"`
	Encoder  EncoderConfig   `toml:"encoder"`
	Channels []ChannelConfig `toml:"channels"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PacingConfig configures the tick loop.
type PacingConfig struct {
	TargetHz float64 `toml:"target_hz"`
}

// MetricsConfig configures sampling and persistence of channel metrics.
type MetricsConfig struct {
	SampleHz             float64 `toml:"sample_hz"`
	AggregationWindowSec float64 `toml:"aggregation_window_sec"`
	FlushIntervalSec     float64 `toml:"flush_interval_sec"`
}

// StorageConfig configures the SQLite sample history store.
type StorageConfig struct {
	Path string `toml:"path"`
}

// EncoderConfig configures the external encoder used by segment producers.
type EncoderConfig struct {
	BinaryPath string  `toml:"binary_path"`
	DrainSec   float64 `toml:"drain_sec"`
}

// ChannelConfig describes one always-on channel.
type ChannelConfig struct {
	ID         string            `toml:"id"`
	Name       string            `toml:"name"`
	OutputURL  string            `toml:"output_url"`
	Mode       string            `toml:"mode"`     // normal, pinned
	Producer   string            `toml:"producer"` // segment, loop
	ClockRate  float64           `toml:"clock_rate"`
	Programmes []ProgrammeConfig `toml:"programmes"`
}

// ProgrammeConfig is one entry in a channel's playout rotation.
type ProgrammeConfig struct {
	ID          string  `toml:"id"`
	Source      string  `toml:"source"`
	Kind        string  `toml:"kind"` // content, filler
	DurationSec float64 `toml:"duration_sec"`
}

// Load reads the configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Pacing.TargetHz == 0 {
		c.Pacing.TargetHz = 10
	}
	if c.Metrics.SampleHz == 0 {
		c.Metrics.SampleHz = 1
	}
	if c.Metrics.AggregationWindowSec == 0 {
		c.Metrics.AggregationWindowSec = 10
	}
	if c.Metrics.FlushIntervalSec == 0 {
		c.Metrics.FlushIntervalSec = 5
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "aircast.db"
	}
	if c.Encoder.BinaryPath == "" {
		c.Encoder.BinaryPath = "ffmpeg"
	}
	if c.Encoder.DrainSec == 0 {
		c.Encoder.DrainSec = 2
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Mode == "" {
			ch.Mode = "normal"
		}
		if ch.Producer == "" {
			ch.Producer = "segment"
		}
		if ch.ClockRate == 0 {
			ch.ClockRate = 1
		}
		for j := range ch.Programmes {
			if ch.Programmes[j].Kind == "" {
				ch.Programmes[j].Kind = "content"
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Pacing.TargetHz <= 0 {
		return fmt.Errorf("pacing.target_hz must be positive")
	}
	if c.Metrics.SampleHz <= 0 {
		return fmt.Errorf("metrics.sample_hz must be positive")
	}
	if c.Metrics.AggregationWindowSec <= 0 {
		return fmt.Errorf("metrics.aggregation_window_sec must be positive")
	}

	seen := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel with empty id")
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true

		if ch.Mode != "normal" && ch.Mode != "pinned" {
			return fmt.Errorf("channel %q: unknown mode %q", ch.ID, ch.Mode)
		}
		if ch.Producer != "segment" && ch.Producer != "loop" {
			return fmt.Errorf("channel %q: unknown producer kind %q", ch.ID, ch.Producer)
		}
		if ch.ClockRate <= 0 {
			return fmt.Errorf("channel %q: clock_rate must be positive", ch.ID)
		}
		if len(ch.Programmes) == 0 {
			return fmt.Errorf("channel %q: no programmes configured", ch.ID)
		}
		for _, p := range ch.Programmes {
			if p.DurationSec <= 0 {
				return fmt.Errorf("channel %q: programme %q duration must be positive", ch.ID, p.ID)
			}
		}
	}
	return nil
}
