package api

import (
	"encoding/json"
	"net/http"

	"github.com/mirrortrade/assistant/internal/chat"
)

type sessionList struct {
	Sessions []chat.Session `json:"sessions"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

type sessionHistory struct {
	Session  *chat.Session  `json:"session"`
	Messages []chat.Message `json:"messages"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, total, err := s.assistant.ListSessions(r.Context(), UserID(r.Context()), limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}

	WriteJSON(w, http.StatusOK, sessionList{
		Sessions: sessions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, s.logger)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "session id must be a UUID", s.logger)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	session, messages, err := s.assistant.SessionHistory(r.Context(), UserID(r.Context()), id, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	WriteJSON(w, http.StatusOK, sessionHistory{Session: session, Messages: messages}, s.logger)
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "session id must be a UUID", s.logger)
		return
	}

	var req escalateRequest
	if r.Body != nil {
		// An empty body means "no reason given".
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req)
	}

	session, err := s.assistant.EscalateToHuman(r.Context(), UserID(r.Context()), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, session, s.logger)
}
