// Package admin implements the §6 admin collaborator: the HTTP surface the
// core proxy engine never calls into directly. It owns Sites/GlobalConfig
// CRUD, the admin login flow (builtin, forward-auth, or OIDC), and the
// operational tooling (live log tail, origin-reachability monitor) that sit
// alongside the mirroring core. Grounded on the teacher's internal/auth
// package, narrowed from its three-tier role hierarchy down to a single
// "admin" principal — ProxiBase's admin surface has exactly one job
// (manage mirror sites), so there is nothing for a role hierarchy to gate.
package admin

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// User is an admin account. There is no role field — anyone who
// authenticates through this store can manage every Site.
type User struct {
	Username     string
	PasswordHash string
	Email        string
	DisplayName  string
}

// UserConfig is the on-disk shape of an admin user entry.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Email        string `yaml:"email,omitempty"`
	DisplayName  string `yaml:"display_name,omitempty"`
}

// UserStore manages admin accounts in memory.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*User)}
}

// LoadFromConfig replaces the store's contents from persisted config.
func (s *UserStore) LoadFromConfig(configs []UserConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*User, len(configs))
	for _, cfg := range configs {
		s.users[cfg.Username] = &User{
			Username:     cfg.Username,
			PasswordHash: cfg.PasswordHash,
			Email:        cfg.Email,
			DisplayName:  cfg.DisplayName,
		}
	}
}

// Get retrieves a user by username.
func (s *UserStore) Get(username string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[username]
}

// Authenticate verifies a username/password pair against its bcrypt hash.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	user := s.Get(username)
	if user == nil {
		return nil, errors.New("user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid password")
	}
	return user, nil
}

// HashPassword bcrypt-hashes a password at the default cost, producing the
// password_hash value stored for an admin user.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Add creates a new admin account.
func (s *UserStore) Add(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return errors.New("user already exists")
	}
	s.users[user.Username] = user
	return nil
}

// Delete removes an admin account.
func (s *UserStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; !exists {
		return errors.New("user not found")
	}
	delete(s.users, username)
	return nil
}

// List returns every admin account, password hashes excluded.
func (s *UserStore) List() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, &User{Username: u.Username, Email: u.Email, DisplayName: u.DisplayName})
	}
	return out
}

// Count returns the number of admin accounts.
func (s *UserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
