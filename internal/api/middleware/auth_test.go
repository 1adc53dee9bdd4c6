package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencommander/commander/internal/auth"
	"github.com/opencommander/commander/internal/core"
)

type users map[string]*core.User

func (u users) GetUserByTokenHash(_ context.Context, hash string) (*core.User, error) {
	if user, ok := u[hash]; ok {
		return user, nil
	}
	return nil, core.ErrAuth("invalid token")
}

func TestRequireUser(t *testing.T) {
	alice := &core.User{ID: "u-1", Name: "alice"}
	a := auth.NewAuthenticator(users{auth.HashToken("cmdr_alice"): alice})

	var seen *core.User
	h := RequireUser(Bearer(a), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer cmdr_alice", http.StatusNoContent},
		{"lowercase scheme", "bearer cmdr_alice", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer cmdr_mallory", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, alice, seen)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), "bearer token")
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequireUser_BackendFailure(t *testing.T) {
	h := RequireUser(AuthenticatorFunc(func(*http.Request) (*core.User, error) {
		return nil, core.ErrUnavailable("database", nil)
	}), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
