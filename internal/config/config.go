package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Source   SourceConfig   `yaml:"source"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures poll pacing.
type ScheduleConfig struct {
	PollInterval string `yaml:"poll_interval"`
	MinPause     string `yaml:"min_pause"`
	MaxPause     string `yaml:"max_pause"`
}

// ParsePollInterval returns the tick interval as time.Duration.
func (s ScheduleConfig) ParsePollInterval() time.Duration {
	return parseDuration(s.PollInterval, 5*time.Minute)
}

// ParseMinPause returns the lower bound of the inter-identifier pause.
func (s ScheduleConfig) ParseMinPause() time.Duration {
	return parseDuration(s.MinPause, 2*time.Second)
}

// ParseMaxPause returns the upper bound of the inter-identifier pause.
func (s ScheduleConfig) ParseMaxPause() time.Duration {
	return parseDuration(s.MaxPause, 5*time.Second)
}

func parseDuration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// SourceConfig configures the profile source client.
type SourceConfig struct {
	ProxyURL string `yaml:"proxy_url"`
	Timeout  string `yaml:"timeout"`
}

// ParseTimeout returns the fetch timeout as time.Duration.
func (s SourceConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 10*time.Second)
}

// TelegramConfig for the Telegram bot and notifier.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// DiscordConfig for the Discord notifier.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// ServerConfig configures the optional status HTTP API.
type ServerConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./banwatch.db"},
		Schedule: ScheduleConfig{
			PollInterval: "5m",
			MinPause:     "2s",
			MaxPause:     "5s",
		},
		Source: SourceConfig{Timeout: "10s"},
		Server: ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the parameters the daemon cannot start without.
func (c *Config) Validate() error {
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram enabled but no token configured")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord enabled but no token configured")
	}
	if !c.Telegram.Enabled && !c.Discord.Enabled {
		return fmt.Errorf("at least one notification platform must be enabled")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BANWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
		cfg.Discord.Enabled = true
	}
	if v := os.Getenv("PROXY_URL"); v != "" {
		cfg.Source.ProxyURL = v
	}
	if v := os.Getenv("BANWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
