// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Player  PlayerConfig  `yaml:"player"`
	Engine  EngineConfig  `yaml:"engine"`
	History HistoryConfig `yaml:"history"`
	Redis   RedisConfig   `yaml:"redis"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080" validate:"required"`
	// Token guards the control API when set.
	Token string `yaml:"token"`
}

// PlayerConfig represents playback controller configuration.
type PlayerConfig struct {
	PreferredQuality string        `yaml:"preferred_quality" default:"160kbps" validate:"required"`
	TickIntervalMs   int           `yaml:"tick_interval_ms" default:"1000" validate:"gte=100,lte=10000"`
	LoadRetries      *int          `yaml:"load_retries" default:"1" validate:"omitempty,gte=0,lte=5"`
	RetryDelayMs     *int          `yaml:"retry_delay_ms" default:"500" validate:"omitempty,gte=0,lte=10000"`
	EventBuffer      int           `yaml:"event_buffer" default:"64" validate:"gte=1"`
	Session          SessionConfig `yaml:"session"`
}

// SessionConfig represents the audio session options applied before playback.
type SessionConfig struct {
	AllowSilentPlayback     *bool `yaml:"allow_silent_playback" default:"true"`
	AllowBackgroundPlayback *bool `yaml:"allow_background_playback" default:"true"`
	Exclusive               *bool `yaml:"exclusive" default:"true"`
}

// EngineConfig selects and configures the audio engine backend.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"mpd" validate:"oneof=mpd beep"`
	Settings map[string]any `yaml:"settings"`
}

// HistoryConfig represents play history configuration.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"data/history.db"`
}

// RedisConfig represents the Redis snapshot publisher configuration.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Channel  string `yaml:"channel" default:"nowplaying" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PLAYER_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("MPD_PASSWORD"); v != "" && c.Engine.Type != "beep" {
		if c.Engine.Settings == nil {
			c.Engine.Settings = make(map[string]any)
		}
		c.Engine.Settings["password"] = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// TickInterval returns the engine status interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Player.TickIntervalMs) * time.Millisecond
}

// RetryDelay returns the base delay between source load attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(intValue(c.Player.RetryDelayMs)) * time.Millisecond
}

// Retries returns the number of extra source load attempts. Zero disables
// retrying.
func (c *Config) Retries() int {
	return intValue(c.Player.LoadRetries)
}

func intValue(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

// SilentAllowed reports whether playback continues when the device is muted.
func (s SessionConfig) SilentAllowed() bool { return boolValue(s.AllowSilentPlayback) }

// BackgroundAllowed reports whether playback continues in the background.
func (s SessionConfig) BackgroundAllowed() bool { return boolValue(s.AllowBackgroundPlayback) }

// IsExclusive reports whether other audio outputs are silenced.
func (s SessionConfig) IsExclusive() bool { return boolValue(s.Exclusive) }
