package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `
server:
  listen: ":9090"
  log_level: debug
  proxy_timeout: "45s"
  sites_file: "my-sites.yaml"

rate_limit:
  enabled: true
  requests_per_window: 60
  window: "30s"

edge_tls:
  enabled: true
  listen: ":8443"
  auto_https: true
  acme_email: ops@example.com

admin:
  host: "admin.example.com"
  base_path: "/admin"
  method: builtin
  session_max_age: "12h"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("expected listen :9090, got %s", cfg.Server.Listen)
	}
	if cfg.Server.SitesFile != "my-sites.yaml" {
		t.Errorf("expected sites_file my-sites.yaml, got %s", cfg.Server.SitesFile)
	}
	if cfg.RateLimit.RequestsPerWindow != 60 {
		t.Errorf("expected 60 requests per window, got %d", cfg.RateLimit.RequestsPerWindow)
	}
	if !cfg.EdgeTLS.Enabled || !cfg.EdgeTLS.AutoHTTPS {
		t.Error("expected edge_tls enabled with auto_https")
	}
	if cfg.Admin.SessionMaxAge != "12h" {
		t.Errorf("expected session_max_age 12h, got %s", cfg.Admin.SessionMaxAge)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.Server.Listen)
	}
	if cfg.Admin.Method != "builtin" {
		t.Errorf("expected default admin method builtin, got %s", cfg.Admin.Method)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PROXIBASE_ACME_EMAIL", "ops@example.com")

	content := `
edge_tls:
  enabled: true
  auto_https: true
  acme_email: "${PROXIBASE_ACME_EMAIL}"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte(content), 0o600)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.EdgeTLS.ACMEEmail != "ops@example.com" {
		t.Errorf("expected expanded env var, got %s", cfg.EdgeTLS.ACMEEmail)
	}
}

func TestValidateRejectsMismatchedCertAndKey(t *testing.T) {
	cfg := defaultConfig()
	cfg.EdgeTLS.TLSCert = "/etc/cert.pem"
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error when only tls_cert is set")
	}
}

func TestValidateRejectsAutoHTTPSWithStaticCert(t *testing.T) {
	cfg := defaultConfig()
	cfg.EdgeTLS.AutoHTTPS = true
	cfg.EdgeTLS.TLSCert = "/etc/cert.pem"
	cfg.EdgeTLS.TLSKey = "/etc/key.pem"
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error mixing auto_https with static cert/key")
	}
}

func TestValidateRequiresACMEEmailForAutoHTTPS(t *testing.T) {
	cfg := defaultConfig()
	cfg.EdgeTLS.Enabled = true
	cfg.EdgeTLS.AutoHTTPS = true
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error when auto_https is set without acme_email")
	}
}

func TestValidateRejectsUnknownAdminMethod(t *testing.T) {
	cfg := defaultConfig()
	cfg.Admin.Method = "telepathy"
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error for unknown admin.method")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Listen = ":7000"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Listen != ":7000" {
		t.Errorf("expected round-tripped listen :7000, got %s", loaded.Server.Listen)
	}
}

func TestDurationHelpers(t *testing.T) {
	sc := ServerConfig{ProxyTimeout: "15s"}
	if sc.ProxyTimeoutDuration() != 15*time.Second {
		t.Errorf("expected 15s, got %s", sc.ProxyTimeoutDuration())
	}

	rl := RateLimitConfig{Window: "2m"}
	if rl.WindowDuration() != 2*time.Minute {
		t.Errorf("expected 2m, got %s", rl.WindowDuration())
	}

	ac := AdminConfig{SessionMaxAge: "1h"}
	if ac.SessionMaxAgeDuration() != time.Hour {
		t.Errorf("expected 1h, got %s", ac.SessionMaxAgeDuration())
	}

	// Default on an empty value.
	var empty ServerConfig
	if empty.ProxyTimeoutDuration() != 30*time.Second {
		t.Errorf("expected default 30s, got %s", empty.ProxyTimeoutDuration())
	}
}
