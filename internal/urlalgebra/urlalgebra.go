// Package urlalgebra implements the pure, side-effect-free mapping between
// mirror-side and origin-side URLs (spec §4.1): the functions here never
// touch the network, a clock, or global state — every input maps
// deterministically to one output.
package urlalgebra

import (
	"net"
	"net/url"
	"strings"

	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
)

// BuildOriginURL computes the origin URL to fetch for an incoming mirror
// request. mirrorHost is the request's Host header (may carry a port);
// pathAndQuery is the request path plus "?query" if present.
func BuildOriginURL(mirrorHost, pathAndQuery string, site *siteconfig.Site) (string, bool) {
	host := normalizeHost(mirrorHost)
	mirrorRoot := strings.ToLower(site.MirrorRoot)

	var prefix string
	switch {
	case host == mirrorRoot:
		prefix = ""
	case strings.HasSuffix(host, "."+mirrorRoot):
		prefix = strings.TrimSuffix(host, mirrorRoot)
	default:
		return "", false
	}

	path, query := splitPathQuery(pathAndQuery)

	if extHost, remaining, ok := decodeExternalHost(path); ok {
		origin := "https://" + extHost + remaining
		if query != "" {
			origin += "?" + query
		}
		return origin, true
	}

	originHost := site.SourceRoot
	if prefix != "" {
		originHost = prefix + site.SourceRoot
	}
	return "https://" + originHost + pathAndQuery, true
}

// MapOriginURLToMirror is the inverse mapping used on redirects and during
// rewriting. mirrorScheme is the scheme the mirror itself is being served
// over ("https" in the common case; "http" for a plaintext dev listener).
// A URL that already points at the mirror (mirrorHost, the site's
// mirror_root, or a subdomain of it) is returned unchanged.
func MapOriginURLToMirror(originURL string, site *siteconfig.Site, mirrorHost, mirrorScheme string, eff siteconfig.EffectiveConfig) string {
	u, err := url.Parse(originURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return originURL
	}

	mirrorRoot := strings.ToLower(site.MirrorRoot)
	if h := strings.ToLower(u.Hostname()); h == strings.ToLower(mirrorHost) || h == mirrorRoot || strings.HasSuffix(h, "."+mirrorRoot) {
		return originURL
	}

	sourceRoot := strings.ToLower(site.SourceRoot)
	host := strings.ToLower(u.Host)

	isSource := host == sourceRoot || strings.HasSuffix(host, "."+sourceRoot)
	if isSource && eff.ProxySubdomains {
		var newHost string
		if host == sourceRoot {
			newHost = site.MirrorRoot
		} else {
			prefix := strings.TrimSuffix(host, "."+sourceRoot)
			newHost = prefix + "." + site.MirrorRoot
		}
		return mirrorScheme + "://" + newHost + suffixOf(u)
	}

	if eff.ProxyExternalDomains {
		return mirrorScheme + "://" + mirrorHost + "/" + u.Host + suffixOf(u)
	}
	return originURL
}

// RewriteURLInPage resolves url (possibly relative or protocol-relative)
// against pageOriginURL and maps it into the mirror namespace, honoring
// media_policy == bypass.
func RewriteURLInPage(rawURL, pageOriginURL string, site *siteconfig.Site, eff siteconfig.EffectiveConfig, mirrorHost, mirrorScheme string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return rawURL
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(trimmed, "#") {
		return rawURL
	}

	base, err := url.Parse(pageOriginURL)
	if err != nil {
		return rawURL
	}

	resolveTarget := rawURL
	if strings.HasPrefix(rawURL, "//") {
		resolveTarget = base.Scheme + ":" + rawURL
	}

	ref, err := url.Parse(resolveTarget)
	if err != nil {
		return rawURL
	}
	resolved := base.ResolveReference(ref)

	if eff.MediaPolicy == siteconfig.MediaPolicyBypass && IsMediaURL(rawURL) {
		return resolved.String()
	}

	return MapOriginURLToMirror(resolved.String(), site, mirrorHost, mirrorScheme, eff)
}

// normalizeHost lowercases a Host header value and strips an optional port.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func splitPathQuery(pathAndQuery string) (path, query string) {
	if i := strings.IndexByte(pathAndQuery, '?'); i != -1 {
		return pathAndQuery[:i], pathAndQuery[i+1:]
	}
	return pathAndQuery, ""
}

// decodeExternalHost recognizes a mirror path of the form
// "/<encoded-host>/<remaining>" where the first segment looks like a host
// (contains a dot, per spec's documented sharp edge). Returns the host and
// the remaining path (always starting with "/", "/" if nothing follows).
func decodeExternalHost(path string) (host, remaining string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	first := parts[0]
	if !looksLikeHost(first) {
		return "", "", false
	}
	remaining = "/"
	if len(parts) == 2 {
		remaining = "/" + parts[1]
	}
	return first, remaining, true
}

// looksLikeHost applies the spec's deliberately coarse rule: a first path
// segment is an encoded external host iff it contains at least one dot.
func looksLikeHost(segment string) bool {
	return strings.Contains(segment, ".")
}

// suffixOf returns path + "?query" + "#fragment" for a parsed URL,
// preserving percent-encoding by using the raw forms where available.
func suffixOf(u *url.URL) string {
	out := u.EscapedPath()
	if out == "" {
		out = "/"
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		out += "#" + u.EscapedFragment()
	}
	return out
}
