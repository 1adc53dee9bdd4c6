package api

import (
	"errors"
	"net/http"

	"github.com/opencommander/commander/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatConflict, core.ErrCatState:
		return http.StatusConflict, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, true
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError maps err to a status and writes it. Details of internal and
// backend failures stay in the log.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		s.respondJSON(w, status, errorBody{Error: "internal error"})
		return
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	s.respondJSON(w, status, errorBody{Error: domErr.Message, Code: domErr.Code})
}

// writeStreamError adapts respondError for the SSE handler.
func (s *Server) writeStreamError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err)
}
