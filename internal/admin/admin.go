package admin

import (
	"net/http"
	"time"

	"github.com/CrimsonAJ/proxibase/internal/logging"
	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
)

// Config bundles every knob the admin collaborator needs at construction
// time, gathered from the top-level server config the way the teacher's
// server.go gathers its handler dependencies from config.Config.
type Config struct {
	BasePath       string // e.g. "/admin" — login/logout sit directly under this, at {BasePath}/login and {BasePath}/logout
	CookieName     string
	SessionMaxAge  time.Duration
	CookieSecure   bool
	Auth           AuthConfig
	OIDC           OIDCConfig
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

// Admin is the §6 admin collaborator: the HTTP surface that owns Sites and
// GlobalConfig CRUD, the login flow, and operational tooling. The core proxy
// engine never calls into it — it only reads the *siteconfig.Store the two
// share.
type Admin struct {
	Config   Config
	Store    *siteconfig.Store
	Users    *UserStore
	Sessions *SessionStore
	Auth     *Middleware
	OIDC     *OIDCProvider // nil unless Config.OIDC.Enabled
	Monitor  *SiteMonitor

	logHub   *logHub
	stopPump chan struct{}
}

// New wires the admin collaborator around a shared site store.
func New(cfg Config, store *siteconfig.Store) *Admin {
	if cfg.CookieName == "" {
		cfg.CookieName = "proxibase_admin"
	}
	if cfg.SessionMaxAge == 0 {
		cfg.SessionMaxAge = 24 * time.Hour
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	cfg.Auth.BasePath = cfg.BasePath
	cfg.OIDC.BasePath = cfg.BasePath

	users := NewUserStore()
	sessions := NewSessionStore(cfg.CookieName, cfg.SessionMaxAge, cfg.CookieSecure)
	mw := NewMiddleware(cfg.Auth, sessions, users)
	monitor := NewSiteMonitor(cfg.HealthInterval, cfg.HealthTimeout)

	a := &Admin{
		Config:   cfg,
		Store:    store,
		Users:    users,
		Sessions: sessions,
		Auth:     mw,
		Monitor:  monitor,
		logHub:   newLogHub(),
		stopPump: make(chan struct{}),
	}

	if cfg.OIDC.Enabled {
		a.OIDC = NewOIDCProvider(cfg.OIDC, sessions, users)
	}

	a.syncSiteTargets()
	return a
}

// Start begins the background loops: origin-reachability probing and the
// log-buffer-to-WebSocket pump. The pump runs only once logging.Init has
// created the log buffer.
func (a *Admin) Start() {
	a.Monitor.Start()
	if buf := logging.Buffer(); buf != nil {
		go a.logHub.pump(buf, a.stopPump)
	}
}

// Stop ends the background loops.
func (a *Admin) Stop() {
	a.Monitor.Stop()
	close(a.stopPump)
}

// syncSiteTargets refreshes the health monitor's target set from the
// current site store — called after every CRUD write.
func (a *Admin) syncSiteTargets() {
	sites := a.Store.ListSites()
	targets := make([]SiteTarget, 0, len(sites))
	for _, s := range sites {
		if !s.Enabled {
			continue
		}
		targets = append(targets, SiteTarget{
			MirrorRoot: s.MirrorRoot,
			SourceURL:  "https://" + s.SourceRoot + "/",
		})
	}
	a.Monitor.SetTargets(targets)
}

// Handler builds the admin collaborator's HTTP surface: an unauthenticated
// login endpoint plus an authenticated subtree carrying every CRUD/ops route,
// mounted at {basePath}/login, {basePath}/logout, and {basePath}/* for the
// rest.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()

	base := a.Config.BasePath

	mux.HandleFunc(base+"/login", a.Login)
	mux.HandleFunc(base+"/logout", a.Logout)
	if a.OIDC != nil && a.OIDC.Enabled() {
		mux.HandleFunc(base+"/login/oidc", a.OIDC.HandleLogin)
		mux.HandleFunc(base+"/login/oidc/callback", a.OIDC.HandleCallback)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("/api/me", a.Me)
	protected.HandleFunc("/api/sites", a.sitesRouter)
	protected.HandleFunc("/api/sites/", a.sitesRouter)
	protected.HandleFunc("/api/global-config", a.globalConfigRouter)
	protected.HandleFunc("/api/health", a.SiteHealthStatus)
	protected.HandleFunc("/logs/tail", a.LogTail)

	mux.Handle(base+"/", http.StripPrefix(base, a.Auth.RequireAuth(protected)))

	return mux
}

// globalConfigRouter dispatches GET vs PUT on the single global-config
// resource, which has no sub-resources to split on the way /api/sites does.
func (a *Admin) globalConfigRouter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.GetGlobalConfig(w, r)
	case http.MethodPut:
		a.PutGlobalConfig(w, r)
	default:
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
	}
}
