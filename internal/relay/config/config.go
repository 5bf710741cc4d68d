// Package config loads relay settings from the environment and command-line
// overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/nthnn/oniontalk/internal/crypto"
)

// Config holds relay configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr         string `env:"ONIONTALK_RELAY_ADDR" env-default:":8080" env-description:"listen address"`
	DatabasePath string `env:"ONIONTALK_RELAY_DB" env-default:"./oniontalk.db" env-description:"SQLite database path"`

	// TicketSecret signs websocket admission tickets. A random secret is
	// generated when empty, which invalidates outstanding tickets on restart.
	TicketSecret string        `env:"ONIONTALK_RELAY_SECRET" env-description:"ticket signing secret"`
	TicketTTL    time.Duration `env:"ONIONTALK_RELAY_TICKET_TTL" env-default:"1m" env-description:"ticket lifetime"`

	AllowedOrigins []string `env:"ONIONTALK_RELAY_ORIGINS" env-default:"*" env-separator:"," env-description:"CORS origins"`

	// StaticDir, when set, is served at / for browser clients.
	StaticDir string `env:"ONIONTALK_RELAY_STATIC" env-description:"static files directory"`

	Debug    bool   `env:"ONIONTALK_DEBUG" env-description:"debug logging and gin debug mode"`
	LogLevel string `env:"ONIONTALK_LOG_LEVEL" env-default:"info" env-description:"trace, debug, info, warn or error"`
}

// Overrides replace environment values. A nil pointer keeps the environment
// or default value.
type Overrides struct {
	Addr         *string
	DatabasePath *string
	StaticDir    *string
	Debug        *bool
}

// Load reads the environment, applies overrides and fills in a ticket secret
// if none was configured.
func Load(overrides Overrides) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if overrides.Addr != nil {
		cfg.Addr = *overrides.Addr
	}
	if overrides.DatabasePath != nil {
		cfg.DatabasePath = *overrides.DatabasePath
	}
	if overrides.StaticDir != nil {
		cfg.StaticDir = *overrides.StaticDir
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}

	if cfg.TicketTTL <= 0 {
		return nil, fmt.Errorf("ticket ttl must be positive, got %s", cfg.TicketTTL)
	}
	if cfg.TicketSecret == "" {
		secret, err := crypto.RandBytes(make([]byte, 32))
		if err != nil {
			return nil, fmt.Errorf("generate ticket secret: %w", err)
		}
		cfg.TicketSecret = hex.EncodeToString(secret)
	}
	return &cfg, nil
}
