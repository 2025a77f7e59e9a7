// Package config loads server settings from defaults, an optional config
// file and LOCATIONSHARE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"locationshare/pkg/types"
)

// EnvPrefix is prepended to every environment override, e.g.
// LOCATIONSHARE_HTTP_PORT for http.port.
const EnvPrefix = "LOCATIONSHARE"

// ARCHITECTURAL DISCOVERY: One struct per concern keeps component wiring
// explicit; app.New hands each section to the component that owns it
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Session   SessionConfig   `mapstructure:"session"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver  string        `mapstructure:"driver"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	// PublicBaseURL is used to build share links; derived from the request
	// when empty.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

type SessionConfig struct {
	DefaultDuration int           `mapstructure:"default_duration"`
	MaxParticipants int           `mapstructure:"max_participants"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type BroadcastConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	NATSURL       string `mapstructure:"nats_url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type LimitsConfig struct {
	SignalsPerSecond float64 `mapstructure:"signals_per_second"`
	SignalBurst      int     `mapstructure:"signal_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides are picked up
// even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/locationshare.db")
	v.SetDefault("database.timeout", 30*time.Second)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.public_base_url", "")

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 100)
	v.SetDefault("websocket.max_message_bytes", 8192)

	v.SetDefault("session.default_duration", types.DefaultDurationMinutes)
	v.SetDefault("session.max_participants", types.DefaultMaxParticipants)
	v.SetDefault("session.janitor_interval", 5*time.Minute)

	v.SetDefault("broadcast.backend", "local")
	v.SetDefault("broadcast.redis_addr", "localhost:6379")
	v.SetDefault("broadcast.nats_url", "nats://localhost:4222")
	v.SetDefault("broadcast.channel_prefix", "locationshare")

	v.SetDefault("limits.signals_per_second", 20.0)
	v.SetDefault("limits.signal_burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// NewViper returns a viper instance with defaults and environment binding in
// place. Callers may bind flags on it before calling FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper reads path (if set) into v and decodes the result.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load is FromViper over a fresh NewViper.
func Load(path string) (*Config, error) {
	return FromViper(NewViper(), path)
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects configurations no component could start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "bolt":
	default:
		errs = append(errs, fmt.Errorf("database driver must be sqlite or bolt, got %q", c.Database.Driver))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path cannot be empty"))
	}
	if c.Database.Timeout <= 0 {
		errs = append(errs, errors.New("database timeout must be positive"))
	}

	if c.HTTP.Host == "" {
		errs = append(errs, errors.New("HTTP host cannot be empty"))
	}
	// port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, errors.New("HTTP port must be between 0 and 65535"))
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		errs = append(errs, errors.New("HTTP timeouts must be positive"))
	}

	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, errors.New("WebSocket ping interval must be positive"))
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		errs = append(errs, errors.New("WebSocket read timeout must exceed the ping interval"))
	}
	if c.WebSocket.WriteTimeout <= 0 {
		errs = append(errs, errors.New("WebSocket write timeout must be positive"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("WebSocket send buffer must be positive"))
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("WebSocket max message bytes must be positive"))
	}

	if !types.IsValidDuration(c.Session.DefaultDuration) {
		errs = append(errs, fmt.Errorf("session default duration %d is not an allowed duration", c.Session.DefaultDuration))
	}
	if !types.IsValidMaxParticipants(c.Session.MaxParticipants) {
		errs = append(errs, fmt.Errorf("session max participants %d out of range", c.Session.MaxParticipants))
	}
	if c.Session.JanitorInterval <= 0 {
		errs = append(errs, errors.New("session janitor interval must be positive"))
	}

	switch c.Broadcast.Backend {
	case "local":
	case "redis":
		if c.Broadcast.RedisAddr == "" {
			errs = append(errs, errors.New("redis backend requires broadcast.redis_addr"))
		}
	case "nats":
		if c.Broadcast.NATSURL == "" {
			errs = append(errs, errors.New("nats backend requires broadcast.nats_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("broadcast backend must be local, redis or nats, got %q", c.Broadcast.Backend))
	}

	if c.Limits.SignalsPerSecond < 0 || c.Limits.SignalBurst < 0 {
		errs = append(errs, errors.New("signal limits cannot be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Address is the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
