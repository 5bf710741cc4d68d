// Package config loads the chat client's settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds client configuration.
type Config struct {
	// RelayURL is the relay's HTTP base URL. The websocket endpoint is derived
	// from it.
	RelayURL string `env:"ONIONTALK_RELAY_URL" env-default:"http://localhost:8080" env-description:"relay base URL"`

	// CreateRooms registers missing rooms on join. When false, joining a
	// room nobody has created fails.
	CreateRooms bool `env:"ONIONTALK_CREATE_ROOMS" env-default:"true" env-description:"create rooms that do not exist yet"`

	DialTimeout time.Duration `env:"ONIONTALK_DIAL_TIMEOUT" env-default:"10s" env-description:"relay connect timeout"`

	// PingInterval is the websocket keepalive period; zero disables pings.
	PingInterval time.Duration `env:"ONIONTALK_PING_INTERVAL" env-default:"30s" env-description:"websocket keepalive period, 0 to disable"`
	WriteTimeout time.Duration `env:"ONIONTALK_WRITE_TIMEOUT" env-default:"10s" env-description:"per-frame write timeout"`

	// Password is read from the environment only when no flag provides it.
	Password string `env:"ONIONTALK_PASSWORD" env-description:"room password"`

	Debug    bool   `env:"ONIONTALK_DEBUG" env-description:"enable debug logging"`
	LogLevel string `env:"ONIONTALK_LOG_LEVEL" env-default:"info" env-description:"trace, debug, info, warn or error"`
	LogFile  string `env:"ONIONTALK_LOG_FILE" env-description:"write logs to this file instead of stderr"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the relay URL and timeouts.
func (c *Config) Validate() error {
	if c.DialTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("dial and write timeouts must be positive")
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("ping interval must not be negative")
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid relay url %q: scheme must be http or https", c.RelayURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid relay url %q: missing host", c.RelayURL)
	}
	return nil
}

// WebSocketURL maps the relay URL onto its /ws endpoint: http becomes ws and
// https becomes wss.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Usage describes the supported environment variables.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
