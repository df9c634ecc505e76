package identity

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the caller's address for guest keying: the first
// X-Forwarded-For hop, then X-Real-IP, then the socket address. Proxy
// headers are trusted as-is; the service expects to sit behind its own
// edge.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
