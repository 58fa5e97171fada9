package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/floodgate/floodgate/internal/core/flood"
)

// ClientIP exposes the request's remote address to flood checks. Run it after
// chi's RealIP so proxy headers are already applied to RemoteAddr.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteHost(r.RemoteAddr)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(flood.WithClientIP(r.Context(), ip)))
	})
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
