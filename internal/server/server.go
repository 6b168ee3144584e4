// Package server wires together the site store, rate limiter, cookie jar,
// session codec, and proxy engine behind one process lifecycle, the way the
// teacher's internal/server.Server wires its dashboard handlers behind one
// http.Server. The scope here is much narrower: there is no SPA to serve, no
// setup wizard, no theme/icon routes — just a single listener that
// dispatches by Host to either the mirroring engine or the admin
// collaborator (internal/admin), per spec.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CrimsonAJ/proxibase/internal/admin"
	"github.com/CrimsonAJ/proxibase/internal/config"
	"github.com/CrimsonAJ/proxibase/internal/cookiejar"
	"github.com/CrimsonAJ/proxibase/internal/edgetls"
	"github.com/CrimsonAJ/proxibase/internal/engine"
	"github.com/CrimsonAJ/proxibase/internal/logging"
	"github.com/CrimsonAJ/proxibase/internal/ratelimit"
	"github.com/CrimsonAJ/proxibase/internal/session"
	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
)

// Server owns the single proxy listener (spec §6: one HTTP listener
// dispatching by Host to the admin collaborator, a health check, or the
// proxy engine) and the background loops (rate limiter eviction, health
// monitoring, log pump) that back it.
type Server struct {
	config *config.Config

	sites   *siteconfig.Store
	limiter *ratelimit.Limiter
	engine  *engine.Engine
	admin   *admin.Admin
	edge    *edgetls.Edge

	httpServer *http.Server

	version string
}

// New constructs a Server from a loaded configuration and site store. The
// session signing secret is supplied separately since it typically comes
// from an environment variable rather than the config file itself.
func New(cfg *config.Config, sites *siteconfig.Store, sessionSecret, version string) (*Server, error) {
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration(), cfg.RateLimit.Enabled)
	jar := cookiejar.New()
	codec := session.New(sessionSecret)

	engineCfg := engine.DefaultConfig()
	engineCfg.RequestTimeout = cfg.Server.ProxyTimeoutDuration()
	if cfg.EdgeTLS.Enabled {
		engineCfg.MirrorScheme = "https"
	} else {
		engineCfg.MirrorScheme = "http"
	}

	eng := engine.New(sites, limiter, jar, codec, nil, engineCfg, logging.With("source", "engine"))

	adminUsers := make([]admin.UserConfig, 0, len(cfg.Admin.Users))
	for _, u := range cfg.Admin.Users {
		adminUsers = append(adminUsers, admin.UserConfig{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Email:        u.Email,
			DisplayName:  u.DisplayName,
		})
	}

	if cfg.Admin.Host == "" {
		return nil, fmt.Errorf("admin.host must be set so the admin surface can be routed by Host")
	}

	adminCfg := admin.Config{
		BasePath:      cfg.Admin.BasePath,
		SessionMaxAge: cfg.Admin.SessionMaxAgeDuration(),
		CookieSecure:  cfg.Admin.SecureCookies,
		Auth: admin.AuthConfig{
			Method:         admin.AuthMethod(strings.ToLower(cfg.Admin.Method)),
			TrustedProxies: cfg.Admin.TrustedProxies,
			Headers: admin.ForwardAuthHeaders{
				User:  cfg.Admin.Headers["user"],
				Email: cfg.Admin.Headers["email"],
				Name:  cfg.Admin.Headers["name"],
			},
			APIKey: cfg.Admin.APIKey,
		},
		OIDC: admin.OIDCConfig{
			Enabled:          cfg.Admin.OIDC.Enabled,
			IssuerURL:        cfg.Admin.OIDC.IssuerURL,
			ClientID:         cfg.Admin.OIDC.ClientID,
			ClientSecret:     cfg.Admin.OIDC.ClientSecret,
			RedirectURL:      cfg.Admin.OIDC.RedirectURL,
			Scopes:           cfg.Admin.OIDC.Scopes,
			UsernameClaim:    cfg.Admin.OIDC.UsernameClaim,
			EmailClaim:       cfg.Admin.OIDC.EmailClaim,
			DisplayNameClaim: cfg.Admin.OIDC.DisplayNameClaim,
		},
		HealthInterval: parseDurationOr(cfg.Admin.HealthInterval, 30*time.Second),
		HealthTimeout:  parseDurationOr(cfg.Admin.HealthTimeout, 5*time.Second),
	}

	adm := admin.New(adminCfg, sites)
	adm.Users.LoadFromConfig(adminUsers)

	var edge *edgetls.Edge
	if cfg.EdgeTLS.Enabled {
		edge = edgetls.New(edgetls.Config{
			Enabled:   true,
			Listen:    cfg.EdgeTLS.Listen,
			Upstream:  cfg.Server.Listen,
			AutoHTTPS: cfg.EdgeTLS.AutoHTTPS,
			ACMEEmail: cfg.EdgeTLS.ACMEEmail,
			TLSCert:   cfg.EdgeTLS.TLSCert,
			TLSKey:    cfg.EdgeTLS.TLSKey,
		})
		edge.SetDomains(edgetls.DomainsFromMirrorRoots(mirrorRoots(sites), cfg.EdgeTLS.WithWildcard))
	}

	s := &Server{
		config:  cfg,
		sites:   sites,
		limiter: limiter,
		engine:  eng,
		admin:   adm,
		edge:    edge,
		version: version,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      s.rootHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.ProxyTimeoutDuration() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func mirrorRoots(sites *siteconfig.Store) []string {
	list := sites.ListSites()
	roots := make([]string, 0, len(list))
	for _, s := range list {
		if s.Enabled {
			roots = append(roots, s.MirrorRoot)
		}
	}
	return roots
}

// rootHandler implements spec §6's single-listener dispatch: requests
// whose Host matches the configured admin host go to the admin
// collaborator, a bare "/health" path is answered regardless of Host, and
// everything else goes to the proxy engine.
func (s *Server) rootHandler() http.Handler {
	adminHandler := securityHeadersMiddleware(bodySizeLimitMiddleware(s.admin.Handler()))
	engineHandler := securityHeadersMiddleware(s.engine)
	healthHandler := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setJSONContentType(w)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	adminHost := strings.ToLower(s.config.Admin.Host)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			healthHandler.ServeHTTP(w, r)
			return
		}
		if hostOnly(r.Host) == adminHost {
			adminHandler.ServeHTTP(w, r)
			return
		}
		engineHandler.ServeHTTP(w, r)
	})
}

// hostOnly strips an optional :port suffix for Host-header comparison.
func hostOnly(host string) string {
	if i := strings.LastIndexByte(host, ':'); i != -1 {
		return strings.ToLower(host[:i])
	}
	return strings.ToLower(host)
}

// Start begins serving the single listener and kicks off the background
// loops (health monitoring, log pump, optional edge TLS). It blocks until
// the listener is shut down.
func (s *Server) Start() error {
	s.admin.Start()

	if s.edge != nil {
		if err := s.edge.Start(); err != nil {
			return fmt.Errorf("failed to start edge TLS: %w", err)
		}
	}

	logging.Info("proxibase started", "source", "server", "version", s.version, "listen", s.config.Server.Listen, "admin_host", s.config.Admin.Host)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the listener and the background loops.
func (s *Server) Stop() error {
	logging.Info("server shutting down", "source", "server")

	s.admin.Stop()
	s.limiter.Close()

	if s.edge != nil {
		if err := s.edge.Stop(); err != nil {
			logging.Warn("failed to stop edge TLS", "source", "server", "error", err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
