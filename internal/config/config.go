// Package config loads the gateway configuration from a JSON5 file.
// Secret fields may be sealed with the crypto package and are opened at
// load time using GOBLAST_SECRET_KEY.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/goblast/internal/crypto"
)

// SecretKeyEnv names the env var holding the passphrase for sealed
// config values.
const SecretKeyEnv = "GOBLAST_SECRET_KEY"

// Config is the root configuration.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Queue    QueueConfig    `json:"queue"`
	Content  ContentConfig  `json:"content"`
	Tracing  TracingConfig  `json:"tracing"`
}

// GatewayConfig configures the HTTP/WS surface.
type GatewayConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Token          string `json:"token"` // bearer token; may be sealed
	RateLimitRPM   int    `json:"rate_limit_rpm"`
	RateLimitBurst int    `json:"rate_limit_burst"`
}

// WhatsAppConfig configures the session and delivery policy.
type WhatsAppConfig struct {
	DBPath             string        `json:"db_path"`
	DefaultCountryCode string        `json:"default_country_code"`
	PacingMs           int           `json:"pacing_ms"`
	ConnectGraceMs     int           `json:"connect_grace_ms"`
	Backoff            BackoffConfig `json:"backoff"`
}

// BackoffConfig bounds the session's self-healing restart loop.
type BackoffConfig struct {
	InitialMs   int     `json:"initial_ms"`
	MaxMs       int     `json:"max_ms"`
	Multiplier  float64 `json:"multiplier"`
	MaxAttempts int     `json:"max_attempts"`
}

// QueueConfig bounds the delivery queue.
type QueueConfig struct {
	Cap int `json:"cap"`
}

// ContentConfig selects the attachment store backend.
type ContentConfig struct {
	Backend string   `json:"backend"` // "file" or "s3"
	Root    string   `json:"root"`
	S3      S3Config `json:"s3"`
}

// S3Config configures the s3 content backend.
type S3Config struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
	Prefix string `json:"prefix"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"` // host:port of the OTLP/HTTP collector
}

// DefaultPath returns ~/.goblast/config.json5.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json5"
	}
	return filepath.Join(home, ".goblast", "config.json5")
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := filepath.Dir(DefaultPath())
	return &Config{
		Gateway: GatewayConfig{
			Host:           "127.0.0.1",
			Port:           8273,
			RateLimitRPM:   120,
			RateLimitBurst: 10,
		},
		WhatsApp: WhatsAppConfig{
			DBPath:         filepath.Join(dataDir, "session.db"),
			PacingMs:       2000,
			ConnectGraceMs: 0, // fail fast when the session is down
			Backoff: BackoffConfig{
				InitialMs:   2000,
				MaxMs:       120000,
				Multiplier:  2.0,
				MaxAttempts: 8,
			},
		},
		Queue: QueueConfig{Cap: 1000},
		Content: ContentConfig{
			Backend: "file",
			Root:    filepath.Join(dataDir, "content"),
		},
	}
}

// Load reads and parses the config file, applies defaults for missing
// fields, and opens sealed secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	key := os.Getenv(SecretKeyEnv)
	cfg.Gateway.Token, err = crypto.Open(cfg.Gateway.Token, key)
	if err != nil {
		return nil, fmt.Errorf("unseal gateway token: %w", err)
	}
	return cfg, nil
}

// applyDefaults backfills zero values after parsing a partial file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Gateway.Host == "" {
		c.Gateway.Host = def.Gateway.Host
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = def.Gateway.Port
	}
	if c.Gateway.RateLimitBurst == 0 {
		c.Gateway.RateLimitBurst = def.Gateway.RateLimitBurst
	}
	if c.WhatsApp.DBPath == "" {
		c.WhatsApp.DBPath = def.WhatsApp.DBPath
	}
	if c.WhatsApp.PacingMs == 0 {
		c.WhatsApp.PacingMs = def.WhatsApp.PacingMs
	}
	if c.WhatsApp.Backoff.InitialMs == 0 {
		c.WhatsApp.Backoff = def.WhatsApp.Backoff
	}
	if c.Queue.Cap == 0 {
		c.Queue.Cap = def.Queue.Cap
	}
	if c.Content.Backend == "" {
		c.Content.Backend = def.Content.Backend
	}
	if c.Content.Root == "" {
		c.Content.Root = def.Content.Root
	}
}

// Pacing returns the inter-task pacing interval.
func (c *Config) Pacing() time.Duration {
	return time.Duration(c.WhatsApp.PacingMs) * time.Millisecond
}

// ConnectGrace returns how long batch submission waits for a session.
func (c *Config) ConnectGrace() time.Duration {
	return time.Duration(c.WhatsApp.ConnectGraceMs) * time.Millisecond
}
