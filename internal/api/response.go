// Package api exposes the assistant over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/mirrortrade/assistant/internal/log"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// WriteJSON encodes v into a buffer before touching the ResponseWriter, so an
// encoding failure can still produce a clean 500 instead of a torn body.
func WriteJSON(w http.ResponseWriter, status int, v any, logger log.Logger) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("encode response", "error", err)
		http.Error(w, `{"error":{"code":"internal","message":"encoding failed"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Debug("write response", "error", err)
	}
}

// WriteError sends a structured error body.
func WriteError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	WriteJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}}, logger)
}
