package admin

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/CrimsonAJ/proxibase/internal/logging"
)

// OIDCConfig configures the optional OIDC login path. Any user the provider
// successfully authenticates becomes an admin principal — ProxiBase has no
// group-gated role tiering, unlike the teacher's admin/power-user/user split.
type OIDCConfig struct {
	Enabled          bool
	IssuerURL        string
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	Scopes           []string
	UsernameClaim    string
	EmailClaim       string
	DisplayNameClaim string
	BasePath         string
}

// OIDCProvider drives the OIDC authorization-code flow.
type OIDCProvider struct {
	config       OIDCConfig
	httpClient   *http.Client
	sessionStore *SessionStore
	userStore    *UserStore

	mu                    sync.RWMutex
	discoveryLoaded       bool
	authorizationEndpoint string
	tokenEndpoint         string
	userinfoEndpoint      string

	statesMu sync.Mutex
	states   map[string]oidcState
}

type oidcState struct {
	createdAt   time.Time
	redirectURL string
}

// NewOIDCProvider constructs an OIDC provider and starts its state-cleanup loop.
func NewOIDCProvider(cfg OIDCConfig, sessionStore *SessionStore, userStore *UserStore) *OIDCProvider {
	p := &OIDCProvider{
		config:       cfg,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		sessionStore: sessionStore,
		userStore:    userStore,
		states:       make(map[string]oidcState),
	}
	if len(p.config.Scopes) == 0 {
		p.config.Scopes = []string{"openid", "profile", "email"}
	}
	if p.config.UsernameClaim == "" {
		p.config.UsernameClaim = "preferred_username"
	}
	if p.config.EmailClaim == "" {
		p.config.EmailClaim = "email"
	}
	if p.config.DisplayNameClaim == "" {
		p.config.DisplayNameClaim = "name"
	}
	go p.cleanupStates()
	return p
}

// Enabled reports whether OIDC login is usable.
func (p *OIDCProvider) Enabled() bool {
	return p.config.Enabled && p.config.IssuerURL != "" && p.config.ClientID != ""
}

func (p *OIDCProvider) loadDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discoveryLoaded {
		return nil
	}

	discoveryURL := strings.TrimSuffix(p.config.IssuerURL, "/") + "/.well-known/openid-configuration"
	resp, err := p.httpClient.Get(discoveryURL)
	if err != nil {
		return fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discovery endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		UserinfoEndpoint      string `json:"userinfo_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("parse discovery document: %w", err)
	}
	p.authorizationEndpoint = doc.AuthorizationEndpoint
	p.tokenEndpoint = doc.TokenEndpoint
	p.userinfoEndpoint = doc.UserinfoEndpoint
	p.discoveryLoaded = true
	return nil
}

// HandleLogin redirects the browser to the provider's authorization endpoint.
func (p *OIDCProvider) HandleLogin(w http.ResponseWriter, r *http.Request) {
	redirectAfter := sanitizeRedirectURL(r.URL.Query().Get("redirect"), p.config.BasePath)

	if err := p.loadDiscovery(); err != nil {
		http.Error(w, "failed to reach OIDC provider: "+err.Error(), http.StatusInternalServerError)
		return
	}

	state, err := generateRandomString(32)
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	p.statesMu.Lock()
	p.states[state] = oidcState{createdAt: time.Now(), redirectURL: redirectAfter}
	p.statesMu.Unlock()

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", p.config.ClientID)
	params.Set("redirect_uri", p.config.RedirectURL)
	params.Set("scope", strings.Join(p.config.Scopes, " "))
	params.Set("state", state)

	http.Redirect(w, r, p.authorizationEndpoint+"?"+params.Encode(), http.StatusFound)
}

// HandleCallback completes the authorization-code exchange and starts a session.
func (p *OIDCProvider) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		logging.Error("oidc authentication error", "source", "admin", "error", errParam,
			"description", r.URL.Query().Get("error_description"))
		http.Error(w, "Authentication failed. Please try again.", http.StatusUnauthorized)
		return
	}

	state := r.URL.Query().Get("state")
	p.statesMu.Lock()
	entry, ok := p.states[state]
	if ok {
		delete(p.states, state)
	}
	p.statesMu.Unlock()
	if !ok {
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	tokens, err := p.exchangeCode(code)
	if err != nil {
		logging.Error("oidc code exchange failed", "source", "admin", "error", err.Error())
		http.Error(w, "Authentication failed. Please try again.", http.StatusInternalServerError)
		return
	}

	claims, err := p.getUserInfo(tokens.AccessToken)
	if err != nil {
		logging.Error("oidc userinfo retrieval failed", "source", "admin", "error", err.Error())
		http.Error(w, "Authentication failed. Please try again.", http.StatusInternalServerError)
		return
	}

	username := getStringClaim(claims, p.config.UsernameClaim)
	if username == "" {
		username = getStringClaim(claims, "sub")
	}
	email := getStringClaim(claims, p.config.EmailClaim)
	displayName := getStringClaim(claims, p.config.DisplayNameClaim)

	if p.userStore.Get(username) == nil {
		_ = p.userStore.Add(&User{Username: username, Email: email, DisplayName: displayName})
	}

	sess, err := p.sessionStore.Create(username)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	p.sessionStore.SetCookie(w, sess)

	http.Redirect(w, r, sanitizeRedirectURL(entry.redirectURL, p.config.BasePath), http.StatusFound)
}

type oidcTokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (p *OIDCProvider) exchangeCode(code string) (*oidcTokenResponse, error) {
	if err := p.loadDiscovery(); err != nil {
		return nil, err
	}
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", p.config.RedirectURL)
	data.Set("client_id", p.config.ClientID)
	data.Set("client_secret", p.config.ClientSecret)

	req, err := http.NewRequest(http.MethodPost, p.tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokens oidcTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

func (p *OIDCProvider) getUserInfo(accessToken string) (map[string]interface{}, error) {
	if err := p.loadDiscovery(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, p.userinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("userinfo endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *OIDCProvider) cleanupStates() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		p.statesMu.Lock()
		now := time.Now()
		for state, entry := range p.states {
			if now.Sub(entry.createdAt) > 10*time.Minute {
				delete(p.states, state)
			}
		}
		p.statesMu.Unlock()
	}
}

func generateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b)[:n], nil
}

func getStringClaim(claims map[string]interface{}, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// sanitizeRedirectURL guards against open-redirect via the post-login
// destination parameter.
func sanitizeRedirectURL(redirectURL, basePath string) string {
	if redirectURL == "" || !strings.HasPrefix(redirectURL, "/") || strings.HasPrefix(redirectURL, "//") {
		return basePath + "/"
	}
	return redirectURL
}
