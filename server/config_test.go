package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func writeTestConfig(t *testing.T, keyPEM string) string {
	t.Helper()
	indented := strings.ReplaceAll(strings.TrimSpace(keyPEM), "\n", "\n    ")
	content := fmt.Sprintf(`server:
  public_url: "http://127.0.0.1:3000"
  dev_listen_addr: "127.0.0.1:3000"
  dev_mode: true
  session_secret: "0123456789abcdef0123456789abcdef"
dezi:
  issuer: "https://dezi.example.com"
  client_id: "portal-client"
  redirect_uri: "http://127.0.0.1:3000/auth/dezi/callback"
  private_key: |
    %s
database:
  path: "data/test.db"
`, indented)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTestConfig(t, testPrivateKeyPEM(t))

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Dezi.Issuer != "https://dezi.example.com" {
		t.Fatalf("issuer: got %q", cfg.Dezi.Issuer)
	}
	if cfg.Dezi.ClientID != "portal-client" {
		t.Fatalf("client_id: got %q", cfg.Dezi.ClientID)
	}
	// defaults survive a partial file
	if len(cfg.Dezi.Scopes) != 1 || cfg.Dezi.Scopes[0] != "openid" {
		t.Fatalf("default scopes: got %v", cfg.Dezi.Scopes)
	}
	if cfg.Server.TLS.HSTSMaxAge != 31536000 {
		t.Fatalf("default hsts max age: got %d", cfg.Server.TLS.HSTSMaxAge)
	}
}

func TestLoadConfigRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  not_a_field: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown config field")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeTestConfig(t, testPrivateKeyPEM(t))
	t.Setenv("DEZI_CLIENT_ID", "override-client")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Dezi.ClientID != "override-client" {
		t.Fatalf("env override not applied: got %q", cfg.Dezi.ClientID)
	}
}

func TestValidate(t *testing.T) {
	keyPEM := testPrivateKeyPEM(t)
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Server.SessionSecret = "0123456789abcdef0123456789abcdef"
		cfg.Dezi.Issuer = "https://dezi.example.com"
		cfg.Dezi.ClientID = "portal-client"
		cfg.Dezi.RedirectURI = "http://127.0.0.1:3000/auth/dezi/callback"
		cfg.Dezi.PrivateKey = keyPEM
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short session secret", func(c *Config) { c.Server.SessionSecret = "short" }},
		{"missing issuer", func(c *Config) { c.Dezi.Issuer = "" }},
		{"bad issuer scheme", func(c *Config) { c.Dezi.Issuer = "ldap://dezi.example.com" }},
		{"missing client id", func(c *Config) { c.Dezi.ClientID = "" }},
		{"missing redirect uri", func(c *Config) { c.Dezi.RedirectURI = "" }},
		{"missing private key", func(c *Config) { c.Dezi.PrivateKey = "" }},
		{"unparseable private key", func(c *Config) { c.Dezi.PrivateKey = "not a key" }},
		{"missing database path", func(c *Config) { c.Database.Path = "" }},
		{"prod without tls domains", func(c *Config) { c.Server.DevMode = false }},
		{"bad public url", func(c *Config) { c.Server.PublicURL = "127.0.0.1:3000" }},
	}
	for _, tc := range cases {
		cfg := valid()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
