// Package config loads server configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all server settings. VaultKey and JWTKey are secrets and must
// never be logged.
type Config struct {
	Addr        string        `env:"ADDR" envDefault:":8080"`
	DatabaseURL string        `env:"DATABASE_URL,required"`
	JWTKey      string        `env:"JWT_KEY,required"`
	VaultKey    string        `env:"VAULT_KEY,required"` // base64, 32 bytes decoded
	AccessTTL   time.Duration `env:"ACCESS_TTL" envDefault:"168h"`

	// Instagram OAuth app credentials (stub adapter).
	InstagramAppID     string `env:"INSTAGRAM_APP_ID"`
	InstagramAppSecret string `env:"INSTAGRAM_APP_SECRET"`
	InstagramRedirect  string `env:"INSTAGRAM_REDIRECT_URL"`

	// Listener behavior.
	BackfillLimit    int           `env:"BACKFILL_LIMIT" envDefault:"50"`
	ListenerRetries  uint64        `env:"LISTENER_RETRIES" envDefault:"5"`
	ListenerBaseWait time.Duration `env:"LISTENER_BASE_WAIT" envDefault:"2s"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.VaultKeyBytes(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// VaultKeyBytes decodes and validates the vault key.
func (c *Config) VaultKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("decode VAULT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("VAULT_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
