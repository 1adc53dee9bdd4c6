// Package auth issues and verifies API bearer tokens.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/opencommander/commander/internal/core"
)

// TokenPrefix marks commander API tokens so they are easy to spot and redact.
const TokenPrefix = "cmdr_"

// NewToken mints a random API token.
func NewToken() string {
	a, b := uuid.New(), uuid.New()
	return TokenPrefix + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:])
}

// HashToken returns the stored digest of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// UserLookup resolves token digests to users.
type UserLookup interface {
	GetUserByTokenHash(ctx context.Context, tokenHash string) (*core.User, error)
}

// Authenticator verifies bearer tokens against the user table.
type Authenticator struct {
	users UserLookup
}

// NewAuthenticator creates an authenticator backed by users.
func NewAuthenticator(users UserLookup) *Authenticator {
	return &Authenticator{users: users}
}

// Authenticate resolves an Authorization header value to a user.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*core.User, error) {
	token, ok := ParseBearer(header)
	if !ok {
		return nil, core.ErrAuth("missing bearer token")
	}
	user, err := a.users.GetUserByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ParseBearer extracts the token from "Bearer <token>".
func ParseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type contextKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *core.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*core.User, bool) {
	u, ok := ctx.Value(contextKey{}).(*core.User)
	return u, ok && u != nil
}
