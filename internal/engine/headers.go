package engine

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/CrimsonAJ/proxibase/internal/ratelimit"
)

// strippedResponseHeaders lists headers the engine must never forward to
// the client, per spec §4.9's "response header sanitization" clause and the
// §8 header-stripping invariant. Set-Cookie is removed separately after
// being consumed by the cookie jar.
var strippedResponseHeaders = []string{
	"Set-Cookie",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"Strict-Transport-Security",
	"X-Frame-Options",
	"Content-Length", // recomputed after rewriting
	"Content-Encoding",
	"Transfer-Encoding",
}

func sanitizeResponseHeaders(h http.Header) {
	for _, name := range strippedResponseHeaders {
		h.Del(name)
	}
	for name := range h {
		if strings.HasPrefix(strings.ToLower(name), "access-control-") {
			h.Del(name)
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
}

// mediaContentTypePrefixes exempts binary/streamed content from the
// response size cap, per spec §4.9.
var mediaContentTypePrefixes = []string{
	"image/",
	"video/",
	"audio/",
	"font/",
	"application/octet-stream",
	"application/zip",
	"application/pdf",
	"application/gzip",
	"application/x-gzip",
	"application/vnd.apple.mpegurl",
}

func isMediaContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	for _, prefix := range mediaContentTypePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
