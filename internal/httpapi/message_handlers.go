package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erauner12/wa-gateway/internal/session"
)

type sendMessageReq struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessage sends text through the tenant's session. The synthesized
// outbound message is durably accepted before the 202 is written.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.tenantSession(w, r)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.To == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "to and text are required")
		return
	}

	m, err := sess.SendMessage(r.Context(), req.To, req.Text)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			writeError(w, http.StatusConflict, "session is not connected")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message": m})
}

// CheckNumber asks upstream whether a phone number is registered.
func (s *Server) CheckNumber(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.tenantSession(w, r)
	if !ok {
		return
	}
	phone := chi.URLParam(r, "phone")
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	res, err := sess.CheckNumber(r.Context(), phone)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			writeError(w, http.StatusConflict, "session is not connected")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListConversations pages through chats, newest activity first.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	cursor := r.URL.Query().Get("cursor")

	chats, next, err := s.Store.ListConversations(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	resp := map[string]any{"conversations": chats}
	if next != "" {
		resp["nextCursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages pages through one chat's messages, newest first.
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")
	if jid == "" {
		writeError(w, http.StatusBadRequest, "jid is required")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	cursor := r.URL.Query().Get("cursor")

	msgs, next, err := s.Store.ListMessages(r.Context(), jid, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	resp := map[string]any{"messages": msgs}
	if next != "" {
		resp["nextCursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}
