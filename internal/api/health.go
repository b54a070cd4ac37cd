package api

import (
	"context"
	"net/http"
	"time"

	goa "goa.design/goa/v3/pkg"
)

type healthResponse struct {
	Status string `json:"status"`
}

// healthz is the liveness probe
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.respond(r.Context(), w, http.StatusOK, &healthResponse{Status: "ok"})
}

// readyz reports ready once the database answers
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.opts.Catalog.Ping(ctx); err != nil {
		s.logger.Printf("[API] readiness check failed: %v", err)
		s.fail(r.Context(), w, goa.TemporaryError("unavailable", "database unavailable"))
		return
	}
	s.respond(r.Context(), w, http.StatusOK, &healthResponse{Status: "ready"})
}
