package server

import (
	"encoding/json"
	"net/http"
)

// registerRoutes sets up the probe routes that sit outside the API.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleLive)
	mux.HandleFunc("GET /readyz", s.handleReady)
}

// ProbeResponse is the response for probe endpoints.
type ProbeResponse struct {
	Status  string `json:"status"`
	Engines string `json:"engines,omitempty"`
}

// handleLive returns OK whenever the HTTP server is responding.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: "ok"})
}

// handleReady returns OK only once jobs are accepted.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ready:
		writeJSON(w, http.StatusOK, ProbeResponse{Status: "ok", Engines: "ready"})
		return
	default:
	}

	resp := ProbeResponse{Status: "degraded", Engines: "loading"}
	if s.registry.Err() != nil {
		resp.Engines = "failed"
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
