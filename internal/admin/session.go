package admin

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

// Session is an authenticated admin browser session. Unrelated to the core's
// session package: that one signs an opaque per-visitor identifier for the
// cookie jar; this one tracks who is logged into the admin surface.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session has outlived its max age.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionStore manages admin login sessions in memory.
type SessionStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	cookieName string
	maxAge     time.Duration
	secure     bool
}

// NewSessionStore creates a session store and starts its expiry sweep.
func NewSessionStore(cookieName string, maxAge time.Duration, secure bool) *SessionStore {
	s := &SessionStore{
		sessions:   make(map[string]*Session),
		cookieName: cookieName,
		maxAge:     maxAge,
		secure:     secure,
	}
	go s.cleanup()
	return s
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Create starts a new session for username.
func (s *SessionStore) Create(username string) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        id,
		Username:  username,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.maxAge),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get retrieves a session by ID, returning a copy so callers never race
// with Refresh.
func (s *SessionStore) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.IsExpired() {
		return nil
	}
	cp := *sess
	return &cp
}

// Delete ends a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Refresh extends a session's expiry on activity.
func (s *SessionStore) Refresh(id string) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		sess.ExpiresAt = time.Now().Add(s.maxAge)
	}
	s.mu.Unlock()
}

// GetFromRequest reads and resolves the session cookie.
func (s *SessionStore) GetFromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return nil
	}
	return s.Get(cookie.Value)
}

// SetCookie sets the session cookie on the response.
func (s *SessionStore) SetCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.maxAge.Seconds()),
	})
}

// ClearCookie removes the session cookie.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *SessionStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		for id, sess := range s.sessions {
			if sess.IsExpired() {
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
	}
}

// Count returns the number of active sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
