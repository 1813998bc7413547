// Package config loads environment-based configuration for reader-mcp.
package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// minCookieSecretBytes is the minimum decoded length of COOKIE_SECRET.
// The secret keys the HMAC over approval markers; anything shorter than
// 32 bytes weakens it below SHA-256's output size.
const minCookieSecretBytes = 32

// Config holds all environment-based configuration for reader-mcp.
type Config struct {
	// HTTP listen address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8090"`

	// External HTTPS URL this server is reachable at. Used as the OAuth
	// issuer, the RFC 8707 resource identifier, and in discovery metadata.
	ServerURL string `env:"SERVER_URL"`

	// Hex-encoded secret used to sign approval-marker cookies.
	CookieSecret string `env:"COOKIE_SECRET"`

	// Base URL of the Readwise Reader API.
	ReadwiseAPIURL string `env:"READWISE_API_URL" envDefault:"https://readwise.io"`

	// Path to the bbolt state database. Empty disables persistence;
	// grants and tokens are then lost on restart.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the cookie secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}

	if c.CookieSecret == "" {
		return fmt.Errorf("COOKIE_SECRET is required")
	}

	if _, err := c.DecodeCookieSecret(); err != nil {
		return err
	}

	return nil
}

// DecodeCookieSecret decodes and length-checks the hex cookie secret.
func (c *Config) DecodeCookieSecret() ([]byte, error) {
	secret, err := hex.DecodeString(c.CookieSecret)
	if err != nil {
		return nil, fmt.Errorf("COOKIE_SECRET must be hex-encoded: %w", err)
	}

	if len(secret) < minCookieSecretBytes {
		return nil, fmt.Errorf("COOKIE_SECRET must decode to at least %d bytes, got %d", minCookieSecretBytes, len(secret))
	}

	return secret, nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
