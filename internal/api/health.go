package api

import (
	"context"
	"net/http"
	"time"

	"github.com/opencommander/commander/internal/diagnostics"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version"`
	Time     time.Time                `json:"time"`
	Uptime   string                   `json:"uptime"`
	Database string                   `json:"database"`
	Host     *diagnostics.HostMetrics `json:"host,omitempty"`
}

// handleHealth reports server health. A database that does not answer a
// ping makes the server unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  s.version,
		Time:     time.Now().UTC(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Database: "ok",
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("health check: database unreachable", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if s.collector != nil {
		m := s.collector.Collect()
		resp.Host = &m
	}
	s.respondJSON(w, status, resp)
}
