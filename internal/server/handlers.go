package server

import (
	"encoding/json"
	"net/http"
	"sort"
)

// handleHealth reports healthy when every database passes a quick check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.databases))

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.databases[name].QuickCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Str("database", name).Msg("Health check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "fundfolio",
		"databases": checks,
	}
	if status != http.StatusOK {
		response["status"] = "degraded"
	}
	s.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
