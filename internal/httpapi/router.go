package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/auth"
	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/session"
	"github.com/erauner12/wa-gateway/internal/store"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Store    store.Store
	Ingest   *ingest.Service
	Sessions *session.Manager
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router. Health and metrics are open; everything
// under /v1 is scoped to the authenticated tenant.
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health and observability (unauthenticated)
	r.Get("/healthz", s.Healthz)
	r.Get("/readyz", s.Readyz)
	r.Get("/metrics", s.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		// Session lifecycle
		r.Post("/v1/session/connect", s.SessionConnect)
		r.Get("/v1/session/qr", s.SessionQR)
		r.Get("/v1/session/status", s.SessionStatus)
		r.Post("/v1/session/logout", s.SessionLogout)

		// Messaging
		r.Post("/v1/messages", s.SendMessage)
		r.Get("/v1/check/{phone}", s.CheckNumber)

		// Queries
		r.Get("/v1/conversations", s.ListConversations)
		r.Get("/v1/conversations/{jid}/messages", s.ListMessages)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
