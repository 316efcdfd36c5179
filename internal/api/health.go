package api

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// handleReadyz reports ready only when the database answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("readiness probe failed", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", s.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}
