package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready fails only on the database. The AI breaker state is reported but an
// open breaker does not fail readiness.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
			return
		}
	}
	resp := map[string]string{"status": "ready"}
	if s.breaker != nil {
		resp["ai_breaker"] = s.breaker.BreakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}
