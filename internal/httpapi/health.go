package httpapi

import "net/http"

// Healthz reports liveness: the store must be reachable. The body carries
// the ingestion snapshot so a probe failure is immediately diagnosable.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	snap := s.Ingest.Metrics()
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":      false,
			"error":   err.Error(),
			"metrics": snap,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"metrics": snap,
	})
}

// Readyz reports readiness: store reachable and queue depth below the
// backpressure threshold.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	if !s.Ingest.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":      false,
			"error":      "ingestion queue saturated",
			"queueDepth": s.Ingest.QueueDepth(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// Metrics returns the point-in-time ingestion snapshot.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Ingest.Metrics())
}
