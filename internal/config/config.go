// Package config loads the top-level server configuration: listen
// addresses, rate limiting, edge TLS, and the admin surface's auth
// settings. Site/GlobalConfig — the mirroring data model itself — lives in
// internal/siteconfig and is loaded separately, since the admin collaborator
// is its only writer and the two have very different lifecycles (this file
// changes at deploy time; sites change at admin-CRUD time).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	EdgeTLS   EdgeTLSConfig   `yaml:"edge_tls"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig holds the proxy engine's own listener settings.
type ServerConfig struct {
	Listen       string `yaml:"listen" json:"listen"` // e.g. ":8080", the plaintext engine listener
	LogLevel     string `yaml:"log_level" json:"log_level"`
	ProxyTimeout string `yaml:"proxy_timeout" json:"proxy_timeout"` // e.g. "30s" — origin fetch timeout
	MaxBodyBytes int64  `yaml:"max_body_bytes" json:"max_body_bytes"`
	SitesFile    string `yaml:"sites_file" json:"sites_file"` // siteconfig.Store's backing YAML path
}

// ProxyTimeoutDuration parses ServerConfig.ProxyTimeout, defaulting to 30s
// on an empty or invalid value.
func (c *ServerConfig) ProxyTimeoutDuration() time.Duration {
	if c.ProxyTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.ProxyTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RateLimitConfig configures the sliding-window per-IP admission control
// (spec §4.3), grounded on the teacher's server.rateLimiter settings.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	RequestsPerWindow int    `yaml:"requests_per_window" json:"requests_per_window"`
	Window            string `yaml:"window" json:"window"` // e.g. "1m"
}

// WindowDuration parses RateLimitConfig.Window, defaulting to one minute.
func (c *RateLimitConfig) WindowDuration() time.Duration {
	if c.Window == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(c.Window)
	if err != nil {
		return time.Minute
	}
	return d
}

// EdgeTLSConfig configures the optional Caddy-based TLS/ACME termination in
// front of the plaintext proxy engine (internal/edgetls).
type EdgeTLSConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Listen       string `yaml:"listen" json:"listen"` // e.g. ":443"
	AutoHTTPS    bool   `yaml:"auto_https" json:"auto_https"`
	ACMEEmail    string `yaml:"acme_email" json:"acme_email"`
	TLSCert      string `yaml:"tls_cert" json:"tls_cert"`
	TLSKey       string `yaml:"tls_key" json:"tls_key"`
	WithWildcard bool   `yaml:"with_wildcard" json:"with_wildcard"` // also terminate *.mirror_root for subdomain mirroring
}

// AdminConfig holds the admin collaborator's auth settings. The admin
// surface shares the single proxy listener (spec §6): requests are routed
// to it by Host rather than by a separate port.
type AdminConfig struct {
	Host           string            `yaml:"host" json:"host"` // e.g. "admin.example.com" — Host header that routes here
	BasePath       string            `yaml:"base_path" json:"base_path"`
	Method         string            `yaml:"method"` // builtin, forward_auth, oidc
	Users          []UserConfig      `yaml:"users"`
	TrustedProxies []string          `yaml:"trusted_proxies"`
	Headers        map[string]string `yaml:"headers"`
	OIDC           OIDCConfig        `yaml:"oidc"`
	SessionMaxAge  string            `yaml:"session_max_age"` // e.g. "24h"
	SecureCookies  bool              `yaml:"secure_cookies"`
	APIKey         string            `yaml:"api_key"`
	HealthInterval string            `yaml:"health_interval"` // origin-reachability poll interval
	HealthTimeout  string            `yaml:"health_timeout"`
}

// SessionMaxAgeDuration parses AdminConfig.SessionMaxAge, defaulting to 24h.
func (c *AdminConfig) SessionMaxAgeDuration() time.Duration {
	if c.SessionMaxAge == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(c.SessionMaxAge)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// UserConfig holds one admin account's on-disk credentials.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Email        string `yaml:"email,omitempty"`
	DisplayName  string `yaml:"display_name,omitempty"`
}

// OIDCConfig holds OIDC provider settings for admin login.
type OIDCConfig struct {
	Enabled          bool     `yaml:"enabled"`
	IssuerURL        string   `yaml:"issuer_url"`
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	RedirectURL      string   `yaml:"redirect_url"`
	Scopes           []string `yaml:"scopes"`
	UsernameClaim    string   `yaml:"username_claim"`
	EmailClaim       string   `yaml:"email_claim"`
	DisplayNameClaim string   `yaml:"display_name_claim"`
}

// Load reads configuration from a YAML file, expanding ${VAR} environment
// references the same way the teacher's config.Load does, and falling back
// to defaults if the file does not exist yet.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the configuration for contradictory or incomplete settings.
func (c *Config) validate() error {
	if (c.EdgeTLS.TLSCert != "") != (c.EdgeTLS.TLSKey != "") {
		return fmt.Errorf("edge_tls.tls_cert and edge_tls.tls_key must both be set, or both empty")
	}
	if c.EdgeTLS.AutoHTTPS && c.EdgeTLS.TLSCert != "" {
		return fmt.Errorf("use edge_tls.auto_https or edge_tls.tls_cert/tls_key, not both")
	}
	if c.EdgeTLS.Enabled && c.EdgeTLS.AutoHTTPS && c.EdgeTLS.ACMEEmail == "" {
		return fmt.Errorf("edge_tls.acme_email is required when edge_tls.auto_https is set")
	}
	method := strings.ToLower(c.Admin.Method)
	if method != "" && method != "builtin" && method != "forward_auth" && method != "oidc" {
		return fmt.Errorf("admin.method must be builtin, forward_auth, or oidc, got %q", c.Admin.Method)
	}
	return nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8080",
			LogLevel:     "info",
			ProxyTimeout: "30s",
			MaxBodyBytes: 50 << 20, // 50 MiB
			SitesFile:    "sites.yaml",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 120,
			Window:            "1m",
		},
		Admin: AdminConfig{
			Host:           "",
			BasePath:       "/admin",
			Method:         "builtin",
			SessionMaxAge:  "24h",
			HealthInterval: "30s",
			HealthTimeout:  "5s",
		},
	}
}
