package api

import (
	"net/http"
	"time"

	"github.com/joescharf/tracker/internal/health"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
	Version   string    `json:"version"`
}

type readinessResponse struct {
	Status string                        `json:"status"`
	Checks map[string]health.CheckResult `json:"checks"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    s.health.Uptime().Seconds(),
		Version:   s.health.Version(),
	})
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	report := s.health.Run(r.Context())
	if !report.Ready {
		writeJSON(w, http.StatusServiceUnavailable, readinessResponse{Status: "not_ready", Checks: report.Checks})
		return
	}
	writeJSON(w, http.StatusOK, readinessResponse{Status: "ready", Checks: report.Checks})
}

func (s *Server) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}
