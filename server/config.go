package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Upkyk/dezi-gateway-starter/dezi"
	"github.com/Upkyk/dezi-gateway-starter/session"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dezi     DeziConfig     `yaml:"dezi"`
	Database DatabaseConfig `yaml:"database"`
}

// ServerConfig controls listener, TLS, and cookie concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url" env:"APP_PUBLIC_URL"`
	DevListenAddr   string    `yaml:"dev_listen_addr" env:"APP_DEV_LISTEN_ADDR"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode" env:"APP_DEV_MODE"`
	CookieDomain    string    `yaml:"cookie_domain" env:"APP_COOKIE_DOMAIN"`
	SessionSecret   string    `yaml:"session_secret" env:"SESSION_SECRET"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for production listeners.
type TLSConfig struct {
	Domains    []string `yaml:"domains" env:"APP_TLS_DOMAINS"`
	Email      string   `yaml:"email" env:"APP_TLS_EMAIL"`
	CachePath  string   `yaml:"cache_path"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// DeziConfig is the relying-party registration with the Dezi IdP. The core
// settings are required and have no defaults.
type DeziConfig struct {
	Issuer       string        `yaml:"issuer" env:"DEZI_ISSUER"`
	ClientID     string        `yaml:"client_id" env:"DEZI_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"DEZI_CLIENT_SECRET"`
	RedirectURI  string        `yaml:"redirect_uri" env:"DEZI_REDIRECT_URI"`
	PrivateKey   string        `yaml:"private_key" env:"DEZI_PRIVATE_KEY"`
	Scopes       []string      `yaml:"scopes" env:"DEZI_SCOPES"`
	DiscoveryTTL time.Duration `yaml:"discovery_ttl"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH"`
}

// LoadConfig reads the YAML config file, applies environment overrides, and
// validates the result. An empty path skips the file and loads from the
// environment alone.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration template. The Dezi section is left
// empty on purpose: those values must come from the file or the environment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:3000",
			DevListenAddr:   "127.0.0.1:3000",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				CachePath:  ".secrets/tls",
				HSTSMaxAge: 31536000,
			},
		},
		Dezi: DeziConfig{
			Scopes:       []string{"openid"},
			DiscoveryTTL: dezi.DefaultDiscoveryTTL,
		},
		Database: DatabaseConfig{
			Path: "data/portal.db",
		},
	}
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if len(c.Server.SessionSecret) < session.MinSecretLen {
		return fmt.Errorf("server.session_secret must be at least %d bytes", session.MinSecretLen)
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Dezi.Issuer == "" {
		return errors.New("dezi.issuer is required")
	}
	if !strings.HasPrefix(c.Dezi.Issuer, "http://") && !strings.HasPrefix(c.Dezi.Issuer, "https://") {
		return fmt.Errorf("dezi.issuer must start with http:// or https://, got: %s", c.Dezi.Issuer)
	}
	if c.Dezi.ClientID == "" {
		return errors.New("dezi.client_id is required")
	}
	if c.Dezi.RedirectURI == "" {
		return errors.New("dezi.redirect_uri is required")
	}
	if c.Dezi.PrivateKey == "" {
		return errors.New("dezi.private_key is required")
	}
	if _, err := dezi.ParseRSAPrivateKey(c.Dezi.PrivateKey); err != nil {
		return fmt.Errorf("dezi.private_key: %w", err)
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}
