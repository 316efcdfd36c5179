package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mirrortrade/assistant/internal/chat"
)

// maxChatBody bounds the request body; questions are capped far below this
// anyway.
const maxChatBody = 64 << 10

type chatRequest struct {
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Question  string     `json:"question"`
	Channel   string     `json:"channel,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", s.logger)
		return
	}

	reply, err := s.assistant.Chat(r.Context(), UserID(r.Context()), req.SessionID, req.Question, req.Channel)
	if err != nil {
		var ie *chat.InvalidInputError
		if errors.As(err, &ie) && ie.Policy != "" {
			s.metrics.blocked.WithLabelValues(ie.Policy).Inc()
		}
		s.writeServiceError(w, err)
		return
	}

	if reply.PolicyName != "" {
		s.metrics.blocked.WithLabelValues(reply.PolicyName).Inc()
	}

	WriteJSON(w, http.StatusOK, reply, s.logger)
}
