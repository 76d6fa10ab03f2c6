// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth returns a middleware that guards administrative endpoints with
// a shared bearer token.
//
// Requests must carry an "Authorization: Bearer <token>" header matching the
// configured token. The comparison is constant-time. If the configured token
// is empty the guarded endpoints are disabled entirely, so a blank setting
// can never be satisfied by a blank header.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin interface disabled", http.StatusServiceUnavailable)
				return
			}
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
