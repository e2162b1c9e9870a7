package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultAddr            = ":8080"
	DefaultPath            = "/ws"
	DefaultHeartbeat       = 27 * time.Second
	DefaultSendBuffer      = 256
	DefaultMaxMessageSize  = 64 * 1024
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
)

// Config is the top-level layout of the config file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds the listener and websocket settings.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	Path   string `yaml:"path"`
	Origin string `yaml:"origin"`

	// Heartbeat is how often each socket is pinged. It must stay below the
	// 30s read deadline the transport applies between pongs.
	Heartbeat       time.Duration `yaml:"heartbeat"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q unknown: want debug|info|warn|error", l.Level)
	}
	return level, nil
}

// MetricsConfig controls the periodic metrics dump.
type MetricsConfig struct {
	Tick time.Duration `yaml:"tick"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			Path:            DefaultPath,
			Heartbeat:       DefaultHeartbeat,
			SendBuffer:      DefaultSendBuffer,
			MaxMessageSize:  DefaultMaxMessageSize,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		return fmt.Errorf("server.path %q must start with /", cfg.Server.Path)
	}
	if cfg.Server.Heartbeat <= 0 || cfg.Server.Heartbeat >= 30*time.Second {
		return fmt.Errorf("server.heartbeat %v must be in (0, 30s)", cfg.Server.Heartbeat)
	}
	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive")
	}
	if cfg.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if cfg.Metrics.Tick < 0 {
		return fmt.Errorf("metrics.tick must not be negative")
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}
