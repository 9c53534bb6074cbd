package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func mountAdmin(r chi.Router, s *handlers) {
	r.Post("/pause", s.handlePause)
	r.Post("/resume", s.handleResume)
	r.Post("/reconcile", s.handleReconcile)
	r.Get("/status", s.handleAdminStatus)
}

func (s *handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	s.orch.Pause()
	s.log.Info("issuance paused by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (s *handlers) handleResume(w http.ResponseWriter, r *http.Request) {
	s.orch.Resume()
	s.log.Info("issuance resumed by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (s *handlers) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciler_unavailable", "reconciler not configured", nil)
		return
	}
	settled, err := s.rec.Sweep(r.Context())
	if err != nil {
		s.log.Error("manual reconcile failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconcile_failed", "sweep did not complete", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": settled})
}

func (s *handlers) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.orch.Paused()})
}
