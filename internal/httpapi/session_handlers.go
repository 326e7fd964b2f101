package httpapi

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/auth"
	"github.com/erauner12/wa-gateway/internal/session"
)

// tenantSession resolves the authenticated tenant's session, writing a 404
// if none exists yet.
func (s *Server) tenantSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	username := auth.Username(r.Context())
	sess, ok := s.Sessions.Get(username)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for tenant")
		return nil, false
	}
	return sess, true
}

// SessionConnect initializes (or resumes) the tenant's upstream session.
func (s *Server) SessionConnect(w http.ResponseWriter, r *http.Request) {
	username := auth.Username(r.Context())
	sess, err := s.Sessions.Connect(r.Context(), username)
	if err != nil {
		if errors.Is(err, session.ErrBadUsername) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("username", username).Msg("session connect failed")
		writeError(w, http.StatusBadGateway, "failed to initialize session")
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Status())
}

// SessionQR blocks until a pairing code is available and returns it.
func (s *Server) SessionQR(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.tenantSession(w, r)
	if !ok {
		return
	}
	qr, err := sess.WaitForQR(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"qr": qr})
	case errors.Is(err, session.ErrAlreadyConnected):
		writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
	case errors.Is(err, session.ErrQRTimeout):
		writeError(w, http.StatusRequestTimeout, "timed out waiting for pairing code")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// SessionStatus returns the session's lifecycle snapshot.
func (s *Server) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.tenantSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// SessionLogout invalidates the upstream session and erases credentials.
func (s *Server) SessionLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.tenantSession(w, r)
	if !ok {
		return
	}
	if err := sess.Logout(r.Context()); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			writeError(w, http.StatusConflict, "session is not connected")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
