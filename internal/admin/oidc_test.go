package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// mockOIDCServer simulates an OIDC provider's discovery, token, and userinfo
// endpoints, grounded on the same test-double shape the teacher's auth
// package uses for its own OIDC tests.
func mockOIDCServer(t *testing.T, userinfo map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": base + "/authorize",
			"token_endpoint":         base + "/token",
			"userinfo_endpoint":      base + "/userinfo",
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("grant_type") != "authorization_code" || r.FormValue("code") == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(oidcTokenResponse{AccessToken: "test-access-token"})
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(userinfo)
	})

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func newTestOIDCProvider(t *testing.T, server *httptest.Server) (*OIDCProvider, *SessionStore, *UserStore) {
	t.Helper()
	sessions := NewSessionStore("admin_session", time.Hour, false)
	users := NewUserStore()
	p := NewOIDCProvider(OIDCConfig{
		Enabled:      true,
		IssuerURL:    server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  server.URL + "/admin/login/oidc/callback",
		BasePath:     "/admin",
	}, sessions, users)
	return p, sessions, users
}

func TestOIDCProviderEnabled(t *testing.T) {
	p := NewOIDCProvider(OIDCConfig{Enabled: true, IssuerURL: "https://idp.example.com", ClientID: "x"}, nil, nil)
	if !p.Enabled() {
		t.Error("expected provider to be enabled")
	}

	disabled := NewOIDCProvider(OIDCConfig{Enabled: false}, nil, nil)
	if disabled.Enabled() {
		t.Error("expected provider to be disabled")
	}
}

func TestOIDCHandleLoginRedirectsToAuthorizationEndpoint(t *testing.T) {
	server := mockOIDCServer(t, nil)
	defer server.Close()
	p, _, _ := newTestOIDCProvider(t, server)

	req := httptest.NewRequest(http.MethodGet, "/admin/login/oidc", nil)
	rec := httptest.NewRecorder()
	p.HandleLogin(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	if !strings.HasSuffix(loc.Path, "/authorize") {
		t.Errorf("expected redirect to authorization endpoint, got %s", loc)
	}
	if loc.Query().Get("state") == "" {
		t.Error("expected a state parameter")
	}
}

func TestOIDCHandleCallbackCreatesUserAndSession(t *testing.T) {
	server := mockOIDCServer(t, map[string]interface{}{
		"preferred_username": "alice",
		"email":              "alice@example.com",
		"name":               "Alice Example",
	})
	defer server.Close()
	p, sessions, users := newTestOIDCProvider(t, server)

	// Drive HandleLogin first so the state is registered server-side.
	loginReq := httptest.NewRequest(http.MethodGet, "/admin/login/oidc", nil)
	loginRec := httptest.NewRecorder()
	p.HandleLogin(loginRec, loginReq)
	loc, _ := url.Parse(loginRec.Header().Get("Location"))
	state := loc.Query().Get("state")

	callbackReq := httptest.NewRequest(http.MethodGet, "/admin/login/oidc/callback?code=abc123&state="+state, nil)
	callbackRec := httptest.NewRecorder()
	p.HandleCallback(callbackRec, callbackReq)

	if callbackRec.Code != http.StatusFound {
		t.Fatalf("expected 302 after successful callback, got %d: %s", callbackRec.Code, callbackRec.Body.String())
	}

	if users.Get("alice") == nil {
		t.Fatal("expected HandleCallback to auto-create the admin user")
	}

	cookies := callbackRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie to be set")
	}
	if sessions.Get(cookies[0].Value) == nil {
		t.Error("expected the session cookie to resolve to a live session")
	}
}

func TestOIDCHandleCallbackRejectsUnknownState(t *testing.T) {
	server := mockOIDCServer(t, nil)
	defer server.Close()
	p, _, _ := newTestOIDCProvider(t, server)

	req := httptest.NewRequest(http.MethodGet, "/admin/login/oidc/callback?code=abc123&state=bogus", nil)
	rec := httptest.NewRecorder()
	p.HandleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown state, got %d", rec.Code)
	}
}

func TestSanitizeRedirectURL(t *testing.T) {
	cases := []struct {
		in, basePath, want string
	}{
		{"/admin/sites", "/admin", "/admin/sites"},
		{"", "/admin", "/admin/"},
		{"//evil.com", "/admin", "/admin/"},
		{"https://evil.com", "/admin", "/admin/"},
	}
	for _, c := range cases {
		if got := sanitizeRedirectURL(c.in, c.basePath); got != c.want {
			t.Errorf("sanitizeRedirectURL(%q, %q) = %q, want %q", c.in, c.basePath, got, c.want)
		}
	}
}
