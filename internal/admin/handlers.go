package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
)

const (
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
	errMethodNotAllowed = "Method not allowed"
	errInvalidBody      = "Invalid request body"
)

// loginRequest is the builtin-auth login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	User    *UserReply `json:"user,omitempty"`
}

// UserReply is the user shape returned by the admin API — no password hash,
// no role (there is only one).
type UserReply struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Login handles POST {basePath}/login — builtin username/password auth.
func (a *Admin) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResponse{Success: false, Message: errInvalidBody})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Success: false, Message: "username and password are required"})
		return
	}

	user, err := a.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false, Message: "invalid username or password"})
		return
	}

	sess, err := a.Sessions.Create(user.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, loginResponse{Success: false, Message: "failed to create session"})
		return
	}
	a.Sessions.SetCookie(w, sess)

	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		User:    &UserReply{Username: user.Username, Email: user.Email, DisplayName: user.DisplayName},
	})
}

// Logout handles POST {basePath}/logout.
func (a *Admin) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	if sess := a.Sessions.GetFromRequest(r); sess != nil {
		a.Sessions.Delete(sess.ID)
	}
	a.Sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me handles GET {basePath}/api/me — returns the current admin principal.
func (a *Admin) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          UserReply{Username: user.Username, Email: user.Email, DisplayName: user.DisplayName},
	})
}

// ListSites handles GET {basePath}/api/sites.
func (a *Admin) ListSites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.Store.ListSites())
}

// CreateSite handles POST {basePath}/api/sites.
func (a *Admin) CreateSite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	var site siteconfig.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		http.Error(w, errInvalidBody, http.StatusBadRequest)
		return
	}
	if err := validateSite(&site); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if site.ID == "" {
		site.ID = site.MirrorRoot
	}

	a.Store.PutSite(&site)
	a.syncSiteTargets()
	if err := a.Store.Save(); err != nil {
		http.Error(w, "failed to persist site configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

// UpdateSite handles PUT {basePath}/api/sites/{mirror_root}.
func (a *Admin) UpdateSite(w http.ResponseWriter, r *http.Request, mirrorRoot string) {
	if r.Method != http.MethodPut {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	var site siteconfig.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		http.Error(w, errInvalidBody, http.StatusBadRequest)
		return
	}
	site.MirrorRoot = mirrorRoot
	if err := validateSite(&site); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if site.ID == "" {
		site.ID = site.MirrorRoot
	}

	a.Store.PutSite(&site)
	a.syncSiteTargets()
	if err := a.Store.Save(); err != nil {
		http.Error(w, "failed to persist site configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// DeleteSite handles DELETE {basePath}/api/sites/{mirror_root}.
func (a *Admin) DeleteSite(w http.ResponseWriter, r *http.Request, mirrorRoot string) {
	if r.Method != http.MethodDelete {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	a.Store.DeleteSite(mirrorRoot)
	a.syncSiteTargets()
	if err := a.Store.Save(); err != nil {
		http.Error(w, "failed to persist site configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func validateSite(site *siteconfig.Site) error {
	if site.MirrorRoot == "" {
		return errors.New("mirror_root is required")
	}
	if site.SourceRoot == "" {
		return errors.New("source_root is required")
	}
	return nil
}

// sitesRouter dispatches /api/sites and /api/sites/{mirror_root} by method,
// since this package sticks with net/http's ServeMux rather than adopting a
// routing library the teacher never used either.
func (a *Admin) sitesRouter(w http.ResponseWriter, r *http.Request) {
	// r.URL.Path has already had the admin base path stripped by
	// http.StripPrefix in Handler, so only "/api/sites" or
	// "/api/sites/{mirror_root}" remains here.
	path := strings.TrimPrefix(r.URL.Path, "/api/sites")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.ListSites(w, r)
		case http.MethodPost:
			a.CreateSite(w, r)
		default:
			http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		a.UpdateSite(w, r, path)
	case http.MethodDelete:
		a.DeleteSite(w, r, path)
	default:
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
	}
}

// GetGlobalConfig handles GET {basePath}/api/global-config.
func (a *Admin) GetGlobalConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.Store.GlobalConfig())
}

// PutGlobalConfig handles PUT {basePath}/api/global-config.
func (a *Admin) PutGlobalConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	var global siteconfig.GlobalConfig
	if err := json.NewDecoder(r.Body).Decode(&global); err != nil {
		http.Error(w, errInvalidBody, http.StatusBadRequest)
		return
	}
	a.Store.SetGlobalConfig(global)
	if err := a.Store.Save(); err != nil {
		http.Error(w, "failed to persist global configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, global)
}

// SiteHealthStatus handles GET {basePath}/api/health — origin reachability
// for every configured site.
func (a *Admin) SiteHealthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.Monitor.GetAll())
}

// LogTail handles GET {basePath}/logs/tail — upgrades to a WebSocket and
// streams live log entries.
func (a *Admin) LogTail(w http.ResponseWriter, r *http.Request) {
	serveLogTail(a.logHub, w, r)
}
