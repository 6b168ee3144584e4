package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionStoreCreateGet(t *testing.T) {
	store := NewSessionStore("test_session", time.Hour, false)

	sess, err := store.Create("admin")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}

	got := store.Get(sess.ID)
	if got == nil {
		t.Fatal("expected to find session")
	}
	if got.Username != "admin" {
		t.Errorf("expected username admin, got %s", got.Username)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	store := NewSessionStore("test_session", -time.Second, false)
	sess, err := store.Create("admin")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := store.Get(sess.ID); got != nil {
		t.Error("expected expired session to be unresolvable")
	}
}

func TestSessionStoreDelete(t *testing.T) {
	store := NewSessionStore("test_session", time.Hour, false)
	sess, _ := store.Create("admin")
	store.Delete(sess.ID)
	if got := store.Get(sess.ID); got != nil {
		t.Error("expected deleted session to be unresolvable")
	}
}

func TestSessionStoreRefresh(t *testing.T) {
	store := NewSessionStore("test_session", time.Hour, false)
	sess, _ := store.Create("admin")
	originalExpiry := sess.ExpiresAt

	time.Sleep(time.Millisecond)
	store.Refresh(sess.ID)

	got := store.Get(sess.ID)
	if !got.ExpiresAt.After(originalExpiry) {
		t.Error("expected Refresh to extend expiry")
	}
}

func TestSessionStoreCookieRoundTrip(t *testing.T) {
	store := NewSessionStore("test_session", time.Hour, false)
	sess, _ := store.Create("admin")

	rec := httptest.NewRecorder()
	store.SetCookie(rec, sess)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	got := store.GetFromRequest(req)
	if got == nil || got.ID != sess.ID {
		t.Fatal("expected GetFromRequest to resolve the session from its cookie")
	}
}

func TestSessionStoreClearCookie(t *testing.T) {
	store := NewSessionStore("test_session", time.Hour, false)
	rec := httptest.NewRecorder()
	store.ClearCookie(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Error("expected ClearCookie to set a cookie with negative MaxAge")
	}
}

func TestSessionStoreCount(t *testing.T) {
	store := NewSessionStore("test_session", time.Hour, false)
	store.Create("a")
	store.Create("b")
	if store.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", store.Count())
	}
}
