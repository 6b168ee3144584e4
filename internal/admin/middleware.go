package admin

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/CrimsonAJ/proxibase/internal/logging"
)

type contextKey string

const (
	contextKeyUser    contextKey = "admin_user"
	contextKeySession contextKey = "admin_session"
)

// AuthMethod selects how the admin surface authenticates requests.
type AuthMethod string

const (
	AuthMethodBuiltin     AuthMethod = "builtin"
	AuthMethodForwardAuth AuthMethod = "forward_auth"
	AuthMethodOIDC        AuthMethod = "oidc"
)

// ForwardAuthHeaders names the headers a trusted reverse proxy sets ahead of
// the admin surface.
type ForwardAuthHeaders struct {
	User  string // default Remote-User
	Email string // default Remote-Email
	Name  string // default Remote-Name
}

// AuthConfig configures the admin authentication middleware.
type AuthConfig struct {
	Method         AuthMethod
	TrustedProxies []string
	Headers        ForwardAuthHeaders
	APIKey         string
	BasePath       string // e.g. "/admin" — prepended to the login redirect
}

// Middleware gates access to admin HTTP handlers.
type Middleware struct {
	mu           sync.RWMutex
	config       AuthConfig
	sessionStore *SessionStore
	userStore    *UserStore
	trustedNets  []*net.IPNet
}

// NewMiddleware builds the admin auth middleware.
func NewMiddleware(cfg AuthConfig, sessionStore *SessionStore, userStore *UserStore) *Middleware {
	m := &Middleware{
		config:       cfg,
		sessionStore: sessionStore,
		userStore:    userStore,
		trustedNets:  parseTrustedProxies(cfg.TrustedProxies),
	}
	return m
}

// UpdateConfig replaces the auth configuration and re-parses trusted proxies.
func (m *Middleware) UpdateConfig(cfg AuthConfig) {
	nets := parseTrustedProxies(cfg.TrustedProxies)
	m.mu.Lock()
	m.config = cfg
	m.trustedNets = nets
	m.mu.Unlock()
}

func parseTrustedProxies(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip == nil {
				continue
			}
			if ip4 := ip.To4(); ip4 != nil {
				_, network, _ = net.ParseCIDR(cidr + "/32")
			} else {
				_, network, _ = net.ParseCIDR(cidr + "/128")
			}
		}
		if network != nil {
			nets = append(nets, network)
		}
	}
	return nets
}

// RequireAuth wraps next, redirecting/401ing unauthenticated requests.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, sess := m.authenticateRequest(r)
		if user == nil {
			m.handleUnauthenticated(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyUser, user)
		if sess != nil {
			ctx = context.WithValue(ctx, contextKeySession, sess)
			m.sessionStore.Refresh(sess.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticateRequest(r *http.Request) (*User, *Session) {
	if m.CheckAPIKey(r) {
		return &User{Username: "api-key"}, nil
	}

	m.mu.RLock()
	method := m.config.Method
	m.mu.RUnlock()

	switch method {
	case AuthMethodForwardAuth:
		return m.authenticateForwardAuth(r), nil
	default: // builtin and OIDC both resolve through the session cookie
		sess := m.sessionStore.GetFromRequest(r)
		if sess == nil {
			return nil, nil
		}
		return m.userStore.Get(sess.Username), sess
	}
}

func (m *Middleware) authenticateForwardAuth(r *http.Request) *User {
	if !m.isFromTrustedProxy(r) {
		logging.Warn("forward auth request not from trusted proxy", "source", "admin", "client_ip", m.directIP(r))
		return nil
	}

	m.mu.RLock()
	headers := m.config.Headers
	m.mu.RUnlock()

	userHeader := headers.User
	if userHeader == "" {
		userHeader = "Remote-User"
	}
	emailHeader := headers.Email
	if emailHeader == "" {
		emailHeader = "Remote-Email"
	}
	nameHeader := headers.Name
	if nameHeader == "" {
		nameHeader = "Remote-Name"
	}

	username := r.Header.Get(userHeader)
	if username == "" {
		return nil
	}
	return &User{
		Username:    username,
		Email:       r.Header.Get(emailHeader),
		DisplayName: r.Header.Get(nameHeader),
	}
}

func (m *Middleware) isFromTrustedProxy(r *http.Request) bool {
	m.mu.RLock()
	nets := m.trustedNets
	m.mu.RUnlock()

	if len(nets) == 0 {
		logging.Warn("forward auth enabled but no trusted_proxies configured; rejecting request", "source", "admin")
		return false
	}
	ip := net.ParseIP(m.directIP(r))
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (m *Middleware) directIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CheckAPIKey constant-time-compares the X-Api-Key header against the
// configured admin API key, for scriptable CRUD access without a browser
// session.
func (m *Middleware) CheckAPIKey(r *http.Request) bool {
	m.mu.RLock()
	key := m.config.APIKey
	m.mu.RUnlock()
	if key == "" {
		return false
	}
	provided := r.Header.Get("X-Api-Key")
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1
}

func (m *Middleware) handleUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	m.mu.RLock()
	basePath := m.config.BasePath
	m.mu.RUnlock()
	http.Redirect(w, r, basePath+"/login", http.StatusFound)
}

// UserFromContext extracts the authenticated admin user from a request
// context populated by RequireAuth.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(contextKeyUser).(*User)
	return u
}

// SessionFromContext extracts the admin session from a request context
// populated by RequireAuth.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKeySession).(*Session)
	return s
}
