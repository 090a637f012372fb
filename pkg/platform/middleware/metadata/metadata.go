// Package metadata extracts caller details from HTTP requests for access
// logs and per-client rate limits.
package metadata

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPFromRequest returns the originating client address, preferring the
// first X-Forwarded-For hop, then X-Real-IP, then the connection address.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
