// Package edgetls terminates TLS for each configured mirror domain using an
// embedded Caddy instance, then hands the decrypted request off to the Go
// net/http proxy engine listening on a local, plaintext port. Adapted from
// the teacher's internal/proxy package, which embedded Caddy the same way to
// front its dashboard/app routes — narrowed here from "per-app reverse proxy
// with slug routing" down to "per-mirror-domain TLS/ACME termination," since
// host-based mirror routing itself is internal/engine's job, not Caddy's.
package edgetls

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/caddyserver/caddy/v2"
	_ "github.com/caddyserver/caddy/v2/modules/standard"

	"github.com/CrimsonAJ/proxibase/internal/logging"
)

// Config configures the TLS-terminating edge.
type Config struct {
	Enabled   bool
	Listen    string   // e.g. ":443"
	Upstream  string   // the plaintext net/http engine's listen address, e.g. "127.0.0.1:8080"
	AutoHTTPS bool     // request ACME certificates automatically for the domains given to SetDomains
	ACMEEmail string   // contact address Caddy registers with the ACME CA
	TLSCert   string   // static certificate file, used when AutoHTTPS is false
	TLSKey    string
}

// Edge manages the embedded Caddy TLS terminator.
type Edge struct {
	mu      sync.RWMutex
	config  Config
	domains []string
	running bool
}

// New creates an edge terminator; call SetDomains then Start.
func New(cfg Config) *Edge {
	return &Edge{config: cfg}
}

// SetDomains replaces the set of mirror domains Caddy should terminate TLS
// for, reloading the running instance if one is active.
func (e *Edge) SetDomains(domains []string) {
	e.mu.Lock()
	e.domains = append([]string(nil), domains...)
	running := e.running
	e.mu.Unlock()

	if running {
		if err := e.reload(); err != nil {
			logging.Error("failed to reload edge TLS config", "source", "edgetls", "error", err.Error())
		}
	}
}

// Start loads the Caddy configuration and begins terminating TLS.
func (e *Edge) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.config.Enabled {
		logging.Info("edge TLS termination disabled", "source", "edgetls")
		return nil
	}

	cfgJSON, err := e.buildConfigJSON()
	if err != nil {
		return fmt.Errorf("build edge TLS config: %w", err)
	}

	if err := caddy.Load(cfgJSON, true); err != nil {
		return fmt.Errorf("load edge TLS config: %w", err)
	}

	e.running = true
	logging.Info("edge TLS termination started", "source", "edgetls", "listen", e.config.Listen, "domains", len(e.domains))
	return nil
}

// Stop tears down the embedded Caddy instance.
func (e *Edge) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	if err := caddy.Stop(); err != nil {
		return fmt.Errorf("stop edge TLS: %w", err)
	}
	e.running = false
	logging.Info("edge TLS termination stopped", "source", "edgetls")
	return nil
}

// IsRunning reports whether the embedded Caddy instance is active.
func (e *Edge) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Edge) reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfgJSON, err := e.buildConfigJSON()
	if err != nil {
		return err
	}
	return caddy.Load(cfgJSON, true)
}

// buildConfigJSON assembles Caddy's JSON config: one HTTP server that
// reverse-proxies every request, for any configured mirror domain, straight
// through to the plaintext engine upstream. The engine itself still does the
// host-based site resolution (§4.6) — Caddy's only job here is the TLS
// handshake.
func (e *Edge) buildConfigJSON() ([]byte, error) {
	route := map[string]interface{}{
		"handle": []map[string]interface{}{
			{
				"handler": "reverse_proxy",
				"upstreams": []map[string]interface{}{
					{"dial": e.config.Upstream},
				},
				"headers": map[string]interface{}{
					"request": map[string]interface{}{
						"set": map[string][]string{
							"X-Forwarded-Proto": {"https"},
							"X-Forwarded-Host":  {"{http.request.host}"},
							"X-Real-IP":         {"{http.request.remote.host}"},
						},
					},
				},
			},
		},
	}
	if len(e.domains) > 0 {
		route["match"] = []map[string]interface{}{
			{"host": e.domains},
		}
	}

	server := map[string]interface{}{
		"listen": []string{e.config.Listen},
		"routes": []map[string]interface{}{route},
	}

	if e.config.AutoHTTPS {
		server["automatic_https"] = map[string]interface{}{"disable": false}
	} else if e.config.TLSCert != "" && e.config.TLSKey != "" {
		server["tls_connection_policies"] = []map[string]interface{}{
			{
				"certificate_selection": map[string]interface{}{
					"any_tag": []string{"proxibase"},
				},
			},
		}
	}

	cfg := map[string]interface{}{
		"apps": map[string]interface{}{
			"http": map[string]interface{}{
				"servers": map[string]interface{}{
					"edge": server,
				},
			},
		},
	}

	apps := cfg["apps"].(map[string]interface{})
	if e.config.TLSCert != "" && e.config.TLSKey != "" {
		apps["tls"] = map[string]interface{}{
			"certificates": map[string]interface{}{
				"load_files": []map[string]interface{}{
					{
						"certificate": e.config.TLSCert,
						"key":         e.config.TLSKey,
						"tags":        []string{"proxibase"},
					},
				},
			},
		}
	} else if e.config.AutoHTTPS && e.config.ACMEEmail != "" {
		apps["tls"] = map[string]interface{}{
			"automation": map[string]interface{}{
				"policies": []map[string]interface{}{
					{
						"issuers": []map[string]interface{}{
							{"module": "acme", "email": e.config.ACMEEmail},
						},
					},
				},
			},
		}
	}

	return json.Marshal(cfg)
}

// DomainsFromMirrorRoots extracts the distinct TLS SNI names Caddy should
// serve, one per configured site plus its "*." subdomain wildcard when
// withWildcard is true.
func DomainsFromMirrorRoots(mirrorRoots []string, withWildcard bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, root := range mirrorRoots {
		root = strings.ToLower(root)
		if !seen[root] {
			seen[root] = true
			out = append(out, root)
		}
		if withWildcard {
			wildcard := "*." + root
			if !seen[wildcard] {
				seen[wildcard] = true
				out = append(out, wildcard)
			}
		}
	}
	return out
}
