// Package engine implements the proxy engine's per-request state machine
// (spec §4.9): resolve site, rate-limit, validate session, build the origin
// URL, run the SSRF guard, fetch jarred cookies, forward the request,
// classify the response, and respond. Grounded on the teacher's
// internal/handlers.ReverseProxyHandler (Director/ModifyResponse shape),
// adapted from httputil.ReverseProxy's hooks into an explicit state machine
// because the spec requires the engine itself to inspect 3xx responses
// rather than delegate to Go's automatic redirect following.
package engine

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CrimsonAJ/proxibase/internal/adfilter"
	"github.com/CrimsonAJ/proxibase/internal/cookiejar"
	"github.com/CrimsonAJ/proxibase/internal/ratelimit"
	"github.com/CrimsonAJ/proxibase/internal/rewriter"
	"github.com/CrimsonAJ/proxibase/internal/session"
	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
	"github.com/CrimsonAJ/proxibase/internal/ssrfguard"
	"github.com/CrimsonAJ/proxibase/internal/urlalgebra"
)

// SiteSource is the read interface the engine needs from the site store —
// the proxy engine never writes Sites or GlobalConfig.
type SiteSource interface {
	ResolveEffective(host string) (*siteconfig.Site, siteconfig.EffectiveConfig, bool)
}

// Config holds the engine's tunable limits, sourced from spec §6's
// configuration inputs.
type Config struct {
	MaxResponseBytes int64
	RequestTimeout   time.Duration
	MirrorScheme     string // "https" in production; "http" for a plaintext dev listener
	SessionCookie    string // defaults to "px_session_id"
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxResponseBytes: 15 * 1024 * 1024,
		RequestTimeout:   15 * time.Second,
		MirrorScheme:     "https",
		SessionCookie:    "px_session_id",
	}
}

// Engine is the request-path core: everything in spec §2's component table
// except the admin collaborator.
type Engine struct {
	sites   SiteSource
	limiter *ratelimit.Limiter
	jar     *cookiejar.Jar
	codec   *session.Codec
	client  *http.Client
	cfg     Config
	log     *slog.Logger

	// safeOrigin defaults to ssrfguard.IsSafeOriginURL. Tests that stand up a
	// loopback-bound origin (as httptest always does) override it, since a
	// real deployment's origins are never loopback addresses.
	safeOrigin func(string) (bool, ssrfguard.Reason)
}

// New wires the engine's collaborators. client may be nil, in which case a
// client with redirects disabled at the transport layer is constructed —
// the engine always inspects 3xx itself (spec §4.9's "no automatic redirect
// following" transport setting).
func New(sites SiteSource, limiter *ratelimit.Limiter, jar *cookiejar.Jar, codec *session.Codec, client *http.Client, cfg Config, log *slog.Logger) *Engine {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "px_session_id"
	}
	return &Engine{sites: sites, limiter: limiter, jar: jar, codec: codec, client: client, cfg: cfg, log: log, safeOrigin: ssrfguard.IsSafeOriginURL}
}

// ServeHTTP is the engine's entry point, mounted for every Host that is not
// the admin host and is not a /health probe.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := peerIP(r)
	mirrorHost := normalizeHostHeader(r.Host)

	rec := &requestRecord{clientIP: clientIP, mirrorHost: mirrorHost, userAgent: r.UserAgent()}
	defer func() { e.logCompletion(rec, start) }()

	site, eff, ok := e.sites.ResolveEffective(mirrorHost)
	if !ok {
		rec.status = http.StatusNotFound
		w.WriteHeader(http.StatusNotFound)
		return
	}

	decision := e.limiter.Allow(clientIP)
	writeRateLimitHeaders(w, decision)
	if !decision.Allowed {
		rec.status = http.StatusTooManyRequests
		rec.warning = true
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	sid, newlyMinted, err := e.resolveSession(r)
	if err != nil {
		rec.status = http.StatusInternalServerError
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}
	originURL, ok := urlalgebra.BuildOriginURL(mirrorHost, pathAndQuery, site)
	if !ok {
		rec.status = http.StatusNotFound
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rec.originURL = originURL

	if safe, reason := e.safeOrigin(originURL); !safe {
		rec.status = http.StatusBadGateway
		rec.warning = true
		http.Error(w, "origin request rejected: "+string(reason), http.StatusBadGateway)
		return
	}

	originHost := hostOf(originURL)

	var forwardCookies map[string]string
	if eff.SessionMode == siteconfig.SessionModeCookieJar {
		forwardCookies = e.jar.Get(site.ID, sid, originHost)
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.cfg.RequestTimeout)
	defer cancel()

	originReq, err := e.buildOriginRequest(ctx, r, originURL, originHost, mirrorHost, site, eff, forwardCookies)
	if err != nil {
		rec.status = http.StatusBadGateway
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	resp, err := e.client.Do(originReq)
	if err != nil {
		rec.status = http.StatusBadGateway
		rec.isError = true
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.log.Error("origin request timed out", "client_ip", clientIP, "origin_url", originURL)
		} else {
			e.log.Error("origin request failed", "client_ip", clientIP, "origin_url", originURL, "error", err.Error())
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	e.handleResponse(w, resp, rec, site, eff, mirrorHost, originURL, sid, originHost, newlyMinted)
}

func (e *Engine) handleResponse(w http.ResponseWriter, resp *http.Response, rec *requestRecord, site *siteconfig.Site, eff siteconfig.EffectiveConfig, mirrorHost, originURL, sid, originHost string, newlyMinted bool) {
	setCookieLines := resp.Header.Values("Set-Cookie")
	if eff.SessionMode == siteconfig.SessionModeCookieJar && len(setCookieLines) > 0 {
		e.jar.Store(site.ID, sid, originHost, setCookieLines)
	}
	sanitizeResponseHeaders(resp.Header)

	if isRedirect(resp.StatusCode) {
		e.respondRedirect(w, resp, rec, site, eff, mirrorHost, originURL, sid, newlyMinted)
		return
	}

	body, err := decodedBody(resp)
	if err != nil {
		rec.status = http.StatusBadGateway
		rec.isError = true
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer body.Close()

	contentType := resp.Header.Get("Content-Type")
	limited := io.LimitReader(body, e.cfg.MaxResponseBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		rec.status = http.StatusBadGateway
		rec.isError = true
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if int64(len(buf)) > e.cfg.MaxResponseBytes && !isMediaContentType(contentType) {
		rec.status = http.StatusRequestEntityTooLarge
		rec.warning = true
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		buf = adfilter.StripAds(buf, eff.RemoveAds, eff.RemoveAnalytics)
		buf = rewriter.Rewrite(buf, rewriter.Context{
			MirrorHost:   mirrorHost,
			MirrorScheme: e.cfg.MirrorScheme,
			Site:         site,
			Effective:    eff,
			PageOrigin:   originURL,
		})
		buf = adfilter.Inject(buf, eff)
	}

	resp.Header.Set("Content-Length", strconv.Itoa(len(buf)))
	copyHeaders(w.Header(), resp.Header)
	if newlyMinted {
		setSessionCookie(w, e.cfg.SessionCookie, e.codec.Sign(sid))
	}
	rec.status = resp.StatusCode
	w.WriteHeader(resp.StatusCode)
	w.Write(buf)
}

func (e *Engine) respondRedirect(w http.ResponseWriter, resp *http.Response, rec *requestRecord, site *siteconfig.Site, eff siteconfig.EffectiveConfig, mirrorHost, originURL, sid string, newlyMinted bool) {
	location := resp.Header.Get("Location")
	if location != "" {
		if resolved, err := url.Parse(location); err == nil {
			base, _ := url.Parse(originURL)
			if base != nil {
				resolved = base.ResolveReference(resolved)
			}
			rewritten := urlalgebra.MapOriginURLToMirror(resolved.String(), site, mirrorHost, e.cfg.MirrorScheme, eff)
			resp.Header.Set("Location", rewritten)
		}
	}
	copyHeaders(w.Header(), resp.Header)
	if newlyMinted {
		setSessionCookie(w, e.cfg.SessionCookie, e.codec.Sign(sid))
	}
	rec.status = resp.StatusCode
	w.WriteHeader(resp.StatusCode)
}

// buildOriginRequest constructs the request sent to the origin, per spec
// §4.9's "forwarded request headers" clause.
func (e *Engine) buildOriginRequest(ctx context.Context, r *http.Request, originURL, originHost, mirrorHost string, site *siteconfig.Site, eff siteconfig.EffectiveConfig, cookies map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, originURL, r.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range []string{"User-Agent", "Accept", "Accept-Language", "Content-Type"} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Host = originHost

	if referer := r.Header.Get("Referer"); referer != "" {
		if mapped, ok := mapRefererToOrigin(referer, mirrorHost, site); ok {
			req.Header.Set("Referer", mapped)
		}
	}

	if len(cookies) > 0 {
		req.Header.Set("Cookie", cookiejar.Render(cookies))
	}

	return req, nil
}

// resolveSession reads and verifies the signed session cookie, minting a
// fresh one when absent or invalid (spec §4.4 and §6).
func (e *Engine) resolveSession(r *http.Request) (sid string, newlyMinted bool, err error) {
	cookieName := e.cfg.SessionCookie
	if c, cerr := r.Cookie(cookieName); cerr == nil {
		if s, ok := e.codec.Verify(c.Value); ok {
			return s, false, nil
		}
	}
	s, err := session.GenerateSID()
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func setSessionCookie(w http.ResponseWriter, name, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sid,
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// peerIP returns the socket peer's IP, never X-Forwarded-For — the core
// treats the peer as authoritative per spec §4.3's open question.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func normalizeHostHeader(host string) string {
	h := strings.ToLower(host)
	if stripped, _, err := net.SplitHostPort(h); err == nil {
		return stripped
	}
	return h
}

// hostOf returns the origin URL's host:port authority, matching what
// MapOriginURLToMirror compares against site.SourceRoot — SourceRoot may
// itself carry a port (a non-standard upstream listener), so the port must
// survive here rather than being stripped.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// decodedBody transparently gunzips the response body when Content-Encoding
// says gzip, since the engine always strips that header (spec §4.9).
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		return gz, nil
	}
	return resp.Body, nil
}

// mapRefererToOrigin treats an incoming Referer as a mirror URL and converts
// it to the origin equivalent by running it back through BuildOriginURL.
// Returns ok=false when the referer cannot be mapped (drop it, per §4.9).
func mapRefererToOrigin(referer, mirrorHost string, site *siteconfig.Site) (string, bool) {
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return "", false
	}
	pathAndQuery := u.EscapedPath()
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}
	return urlalgebra.BuildOriginURL(strings.ToLower(u.Hostname()), pathAndQuery, site)
}

type requestRecord struct {
	clientIP   string
	mirrorHost string
	originURL  string
	userAgent  string
	status     int
	warning    bool
	isError    bool
}

func (e *Engine) logCompletion(rec *requestRecord, start time.Time) {
	latencyMS := time.Since(start).Milliseconds()
	level := slog.LevelInfo
	switch {
	case rec.isError || rec.status >= 500:
		level = slog.LevelError
	case rec.warning || rec.status >= 400:
		level = slog.LevelWarn
	}
	e.log.Log(context.Background(), level, "proxy request completed",
		"client_ip", rec.clientIP,
		"mirror_host", rec.mirrorHost,
		"origin_url", rec.originURL,
		"status_code", rec.status,
		"latency_ms", latencyMS,
		"user_agent", rec.userAgent,
	)
}
