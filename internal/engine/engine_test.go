package engine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CrimsonAJ/proxibase/internal/cookiejar"
	"github.com/CrimsonAJ/proxibase/internal/ratelimit"
	"github.com/CrimsonAJ/proxibase/internal/session"
	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
	"github.com/CrimsonAJ/proxibase/internal/ssrfguard"
)

// fakeSites implements SiteSource over a single fixed site/effective-config
// pair, standing in for a real siteconfig.Store in these unit tests.
type fakeSites struct {
	site *siteconfig.Site
	eff  siteconfig.EffectiveConfig
}

func (f *fakeSites) ResolveEffective(host string) (*siteconfig.Site, siteconfig.EffectiveConfig, bool) {
	h := strings.ToLower(host)
	if h == f.site.MirrorRoot || strings.HasSuffix(h, "."+f.site.MirrorRoot) {
		return f.site, f.eff, true
	}
	return nil, siteconfig.EffectiveConfig{}, false
}

// newOrigin starts a stand-in origin server. Its handler uses the Host
// header it actually receives (which the engine always sets to the origin
// host) to build self-referential links, so callers never need to know the
// listener address up front.
func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	// TLS, not plain HTTP: BuildOriginURL always assembles an https:// URL
	// (spec §4.1 step 4's documented scheme default), so the stand-in origin
	// must actually speak TLS for the engine's real http.Client to reach it.
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/redirect":
			w.Header().Set("Location", "https://"+r.Host+"/after")
			w.WriteHeader(http.StatusFound)
		case "/setcookie":
			w.Header().Set("Set-Cookie", "a=1")
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<a href="https://` + r.Host + `/x">link</a>`))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<a href="https://` + r.Host + `/x">link</a>`))
		}
	}))
	t.Cleanup(origin.Close)
	return origin
}

func newTestEngine(t *testing.T, site *siteconfig.Site, origin *httptest.Server) *Engine {
	t.Helper()

	site.SourceRoot = origin.Listener.Addr().String()
	eff := siteconfig.Effective(site, siteconfig.GlobalConfig{})
	sites := &fakeSites{site: site, eff: eff}

	limiter := ratelimit.New(1000, time.Minute, true)
	t.Cleanup(limiter.Close)
	jar := cookiejar.New()
	codec := session.New("test-secret")

	client := origin.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	cfg := DefaultConfig()
	cfg.MirrorScheme = "https"
	eng := New(sites, limiter, jar, codec, client, cfg, nil)
	// httptest always binds to loopback; the real SSRF guard is exercised
	// directly in TestServeHTTPSSRFRejectsLoopbackOrigin instead.
	eng.safeOrigin = func(string) (bool, ssrfguard.Reason) { return true, ssrfguard.ReasonOK }
	return eng
}

func TestServeHTTPRewritesHTMLBody(t *testing.T) {
	origin := newOrigin(t)
	site := &siteconfig.Site{MirrorRoot: "m.test", Enabled: true}
	eng := newTestEngine(t, site, origin)

	req := httptest.NewRequest(http.MethodGet, "http://m.test/", nil)
	req.Host = "m.test"
	req.RemoteAddr = "203.0.113.5:1234"
	w := httptest.NewRecorder()

	eng.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `href="https://m.test/x"`) {
		t.Fatalf("expected rewritten href, got %s", w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected rate-limit headers to be set")
	}
}

func TestServeHTTPMintsSessionCookie(t *testing.T) {
	origin := newOrigin(t)
	site := &siteconfig.Site{MirrorRoot: "m.test", Enabled: true}
	eng := newTestEngine(t, site, origin)

	req := httptest.NewRequest(http.MethodGet, "http://m.test/", nil)
	req.Host = "m.test"
	req.RemoteAddr = "203.0.113.6:1234"
	w := httptest.NewRecorder()

	eng.ServeHTTP(w, req)

	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "px_session_id" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected px_session_id cookie to be minted")
	}
}

func TestServeHTTPNoMatchingSiteReturns404(t *testing.T) {
	site := &siteconfig.Site{MirrorRoot: "m.test", Enabled: true, SourceRoot: "example.com"}
	sites := &fakeSites{site: site, eff: siteconfig.Effective(site, siteconfig.GlobalConfig{})}
	limiter := ratelimit.New(10, time.Minute, true)
	t.Cleanup(limiter.Close)
	eng := New(sites, limiter, cookiejar.New(), session.New("s"), nil, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "http://unrelated.test/", nil)
	req.Host = "unrelated.test"
	req.RemoteAddr = "203.0.113.7:1234"
	w := httptest.NewRecorder()

	eng.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestServeHTTPSSRFRejectsLoopbackOrigin(t *testing.T) {
	site := &siteconfig.Site{MirrorRoot: "m.test", SourceRoot: "127.0.0.1", Enabled: true}
	sites := &fakeSites{site: site, eff: siteconfig.Effective(site, siteconfig.GlobalConfig{})}
	limiter := ratelimit.New(10, time.Minute, true)
	t.Cleanup(limiter.Close)
	eng := New(sites, limiter, cookiejar.New(), session.New("s"), nil, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "http://m.test/", nil)
	req.Host = "m.test"
	req.RemoteAddr = "203.0.113.8:1234"
	w := httptest.NewRecorder()

	eng.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestServeHTTPRateLimitDenies(t *testing.T) {
	origin := newOrigin(t)
	site := &siteconfig.Site{MirrorRoot: "m.test", Enabled: true}
	eng := newTestEngine(t, site, origin)
	eng.limiter.Close()
	eng.limiter = ratelimit.New(1, time.Minute, true)
	t.Cleanup(eng.limiter.Close)

	req := httptest.NewRequest(http.MethodGet, "http://m.test/", nil)
	req.Host = "m.test"
	req.RemoteAddr = "203.0.113.9:1234"

	w1 := httptest.NewRecorder()
	eng.ServeHTTP(w1, req)

	w2 := httptest.NewRecorder()
	eng.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on denial")
	}
}

func TestServeHTTPRedirectRewritesLocation(t *testing.T) {
	origin := newOrigin(t)
	site := &siteconfig.Site{MirrorRoot: "m.test", Enabled: true}
	eng := newTestEngine(t, site, origin)

	req := httptest.NewRequest(http.MethodGet, "http://m.test/redirect", nil)
	req.Host = "m.test"
	req.RemoteAddr = "203.0.113.10:1234"
	w := httptest.NewRecorder()

	eng.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://m.test/after" {
		t.Fatalf("Location = %q, want https://m.test/after", loc)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name != "px_session_id" {
			t.Errorf("origin Set-Cookie %q must never reach the client", c.Name)
		}
	}
}

func TestServeHTTPCookieJarRoundTrip(t *testing.T) {
	origin := newOrigin(t)
	trueVal := true
	site := &siteconfig.Site{
		MirrorRoot: "m.test",
		Enabled:    true,
		Overrides:  siteconfig.Overrides{SessionMode: siteconfig.SessionModeCookieJar, ProxySubdomains: &trueVal},
	}
	eng := newTestEngine(t, site, origin)

	req1 := httptest.NewRequest(http.MethodGet, "http://m.test/setcookie", nil)
	req1.Host = "m.test"
	req1.RemoteAddr = "203.0.113.11:1234"
	w1 := httptest.NewRecorder()
	eng.ServeHTTP(w1, req1)

	for _, c := range w1.Result().Cookies() {
		if c.Name != "px_session_id" {
			t.Fatalf("origin Set-Cookie %q leaked to client", c.Name)
		}
	}

	var sessionCookie *http.Cookie
	for _, c := range w1.Result().Cookies() {
		if c.Name == "px_session_id" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session cookie to be minted")
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://m.test/", nil)
	req2.Host = "m.test"
	req2.RemoteAddr = "203.0.113.11:1234"
	req2.AddCookie(sessionCookie)
	w2 := httptest.NewRecorder()
	eng.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("second request status = %d", w2.Code)
	}
}
