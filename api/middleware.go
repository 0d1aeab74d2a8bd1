package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/vpnforge/vpnforge/audit"
)

// requireAuth checks the bearer token on every request. With no token
// configured the API runs open; deployments binding beyond loopback must
// set one.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withIdentity stamps the caller's address onto the request context so
// lifecycle events record where they came from.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		if addr != "" {
			r = r.WithContext(audit.WithRemoteAddr(r.Context(), addr))
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom names the acting operator for the audit trail. Deployments
// behind an authenticating proxy pass the user through X-Remote-User.
func actorFrom(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-Remote-User")); u != "" {
		return u
	}
	return "api"
}
