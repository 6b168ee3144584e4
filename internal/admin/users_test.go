package admin

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	return hash
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("testpassword123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "" {
		t.Error("expected non-empty hash")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("testpassword123")); err != nil {
		t.Error("generated hash does not verify against original password")
	}
}

func TestUserStore(t *testing.T) {
	store := NewUserStore()
	store.LoadFromConfig([]UserConfig{
		{Username: "admin", PasswordHash: mustHash(t, "adminpass"), Email: "admin@example.com"},
		{Username: "ops", PasswordHash: mustHash(t, "opspass")},
	})

	t.Run("authenticate valid user", func(t *testing.T) {
		user, err := store.Authenticate("admin", "adminpass")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if user.Username != "admin" {
			t.Errorf("expected username admin, got %s", user.Username)
		}
	})

	t.Run("authenticate wrong password", func(t *testing.T) {
		if _, err := store.Authenticate("admin", "wrongpass"); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("authenticate nonexistent user", func(t *testing.T) {
		if _, err := store.Authenticate("nobody", "password"); err == nil {
			t.Error("expected error for nonexistent user")
		}
	})

	t.Run("get user", func(t *testing.T) {
		user := store.Get("ops")
		if user == nil {
			t.Fatal("expected to find user")
		}
	})

	t.Run("list excludes password hashes", func(t *testing.T) {
		for _, u := range store.List() {
			if u.PasswordHash != "" {
				t.Errorf("expected List to strip password hash for %s", u.Username)
			}
		}
	})

	t.Run("count", func(t *testing.T) {
		if store.Count() != 2 {
			t.Errorf("expected 2 users, got %d", store.Count())
		}
	})
}

func TestUserStoreAddDelete(t *testing.T) {
	store := NewUserStore()

	if err := store.Add(&User{Username: "new", PasswordHash: mustHash(t, "pw")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add(&User{Username: "new", PasswordHash: mustHash(t, "pw")}); err == nil {
		t.Error("expected error adding duplicate username")
	}

	if err := store.Delete("new"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("new"); err == nil {
		t.Error("expected error deleting nonexistent user")
	}
}
