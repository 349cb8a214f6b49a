package proxy

import (
	"net/http"
	"strings"

	"github.com/sovereign-gateway/core/internal/logging"
)

// requestID stamps every request with an id, from X-Request-ID or freshly
// generated.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logging.FromHeaderOrNew(r.Header.Get("X-Request-ID"))
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerAuth enforces the optional shared bearer token. The server only
// ever binds 127.0.0.1, which is the actual security boundary when no
// token is configured.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != s.cfg.AuthToken {
			writeProtocolError(w, protocolForPath(r.URL.Path), "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
