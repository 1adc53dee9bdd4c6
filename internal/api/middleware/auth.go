// Package middleware provides HTTP middleware for the commander API.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/opencommander/commander/internal/auth"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
)

// Authenticator resolves an Authorization header to a user.
type Authenticator interface {
	Authenticate(r *http.Request) (*core.User, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (*core.User, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(r *http.Request) (*core.User, error) { return f(r) }

// Bearer adapts an auth.Authenticator to read the Authorization header.
func Bearer(a *auth.Authenticator) Authenticator {
	return AuthenticatorFunc(func(r *http.Request) (*core.User, error) {
		return a.Authenticate(r.Context(), r.Header.Get("Authorization"))
	})
}

// RequireUser rejects requests without a valid bearer token with 401 and
// stores the authenticated user in the request context otherwise. Backend
// failures during lookup yield 500.
func RequireUser(a Authenticator, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r)
			if err != nil {
				if core.IsCategory(err, core.ErrCatAuth) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="commander"`)
					writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
					return
				}
				logger.Error("authentication lookup failed", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
