// Package cookiejar implements the server-side per-origin cookie jar of spec
// §4.5: a persisted map keyed by (site, session, origin host), populated
// from Set-Cookie response headers and rendered back into outgoing Cookie
// headers. Grounded on the teacher's internal/auth.SessionStore (map behind
// a mutex, with the same read-a-copy discipline to avoid handing out a live
// map a caller might mutate while another goroutine writes it).
package cookiejar

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Key identifies one cookie-jar row: spec calls this the "cookie tuple".
type Key struct {
	SiteID     string
	SessionID  string
	OriginHost string
}

// Jar holds cookie maps for every (site, session, origin host) tuple seen so
// far. Regardless of session_mode, entries are never expired by the core —
// see spec §3's CookieJar lifecycle note.
type Jar struct {
	mu      sync.RWMutex
	entries map[Key]map[string]string
}

// New creates an empty Jar.
func New() *Jar {
	return &Jar{entries: make(map[Key]map[string]string)}
}

// Get returns a copy of the cookie map for the tuple, or an empty map if no
// entry exists yet.
func (j *Jar) Get(siteID, sessionID, originHost string) map[string]string {
	key := Key{siteID, sessionID, originHost}

	j.mu.RLock()
	defer j.mu.RUnlock()

	existing := j.entries[key]
	out := make(map[string]string, len(existing))
	for k, v := range existing {
		out[k] = v
	}
	return out
}

// Store parses each Set-Cookie header line and upserts the named cookie into
// the tuple's map (last-write-wins on conflicting names within the same
// call, by header order). An empty value deletes that name — the origin is
// telling the browser (and us) to forget it. Attributes other than name/value
// (Path, Domain, Expires, …) are parsed only to extract the value and are
// otherwise discarded, per spec §4.5/§9.
func (j *Jar) Store(siteID, sessionID, originHost string, setCookieLines []string) {
	if len(setCookieLines) == 0 {
		return
	}

	key := Key{siteID, sessionID, originHost}

	j.mu.Lock()
	defer j.mu.Unlock()

	m, ok := j.entries[key]
	if !ok {
		m = make(map[string]string)
		j.entries[key] = m
	}

	for _, line := range setCookieLines {
		name, value, ok := parseSetCookieLine(line)
		if !ok {
			continue
		}
		if value == "" {
			delete(m, name)
			continue
		}
		m[name] = value
	}
}

// Render serializes a cookie map into a single Cookie header value, sorted
// by name for stable output (HTTP does not require insertion order here).
func Render(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}

// parseSetCookieLine extracts the name/value pair from a single Set-Cookie
// header line, reusing net/http's own attribute parser so Path/Domain/
// Expires/Secure/SameSite syntax is handled correctly even though those
// attributes are then discarded.
func parseSetCookieLine(line string) (name, value string, ok bool) {
	header := http.Header{}
	header.Add("Set-Cookie", line)
	resp := http.Response{Header: header}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return "", "", false
	}
	return cookies[0].Name, cookies[0].Value, true
}
