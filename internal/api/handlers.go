package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			JSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	alerts, err := s.store.ListAlerts(r.Context(), limit)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "list alerts failed")
		return
	}
	OK(w, alerts)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.stampAlert(w, r, s.storeAcknowledge)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.stampAlert(w, r, s.storeResolve)
}

type stampFunc func(r *http.Request, id string, at time.Time) error

func (s *Server) storeAcknowledge(r *http.Request, id string, at time.Time) error {
	return s.store.AcknowledgeAlert(r.Context(), id, at)
}

func (s *Server) storeResolve(r *http.Request, id string, at time.Time) error {
	return s.store.ResolveAlert(r.Context(), id, at)
}

func (s *Server) stampAlert(w http.ResponseWriter, r *http.Request, stamp stampFunc) {
	id := chi.URLParam(r, "id")
	if id == "" {
		JSONError(w, http.StatusBadRequest, "alert id is required")
		return
	}
	if err := stamp(r, id, time.Now()); err != nil {
		if strings.Contains(err.Error(), "not found") {
			JSONError(w, http.StatusNotFound, "alert not found or already stamped")
			return
		}
		JSONError(w, http.StatusInternalServerError, "update alert failed")
		return
	}
	OK(w, map[string]string{"id": id})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "list rules failed")
		return
	}
	OK(w, rules)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "list agents failed")
		return
	}
	OK(w, agents)
}
