package api

import (
	"net/http"

	"github.com/netwatch-nms/netwatch/pkg/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, envelope{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respond(w, http.StatusServiceUnavailable, envelope{
			"status":  "unavailable",
			"message": "database unreachable",
		})
		return
	}
	respond(w, http.StatusOK, envelope{"status": "ready"})
}
