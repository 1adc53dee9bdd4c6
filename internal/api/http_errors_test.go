package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencommander/commander/internal/core"
)

func TestHTTPStatusForDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		ok     bool
	}{
		{core.ErrValidation("X", "bad"), http.StatusUnprocessableEntity, true},
		{core.ErrNotFound("session", "s"), http.StatusNotFound, true},
		{core.ErrConflict("X", "dup"), http.StatusConflict, true},
		{core.ErrState(core.CodeInvalidTransition, "nope"), http.StatusConflict, true},
		{core.ErrAuth("who"), http.StatusUnauthorized, true},
		{core.ErrTimeout("slow"), http.StatusGatewayTimeout, true},
		{core.ErrUnavailable("database", errors.New("locked")), http.StatusInternalServerError, true},
		{errors.New("plain"), 0, false},
	}
	for _, tt := range tests {
		status, ok := httpStatusForDomainError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.ok, ok)
	}
}
