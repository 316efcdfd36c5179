package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/mirrortrade/assistant/internal/kb"
	"github.com/mirrortrade/assistant/internal/rag"
)

type searchResponse struct {
	Query   string      `json:"query"`
	Matches []rag.Match `json:"matches"`
}

func (s *Server) handleIndexArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "article id must be a UUID", s.logger)
		return
	}

	if err := s.index.IndexArticle(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, kb.ErrNotFound):
			WriteError(w, http.StatusNotFound, "not_found", "article not found", s.logger)
		case errors.Is(err, rag.ErrNotPublished):
			WriteError(w, http.StatusConflict, "not_published", "only published articles can be indexed", s.logger)
		default:
			s.writeServiceError(w, err)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "indexed", "article_id": id.String()}, s.logger)
}

func (s *Server) handleIndexAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.index.IndexAllPublished(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report, s.logger)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		WriteError(w, http.StatusBadRequest, "invalid_query", "query parameter q is required", s.logger)
		return
	}

	opts := []rag.SearchOption{rag.WithTopK(queryInt(r, "limit", rag.DefaultTopK))}
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		if score, err := strconv.ParseFloat(raw, 64); err == nil {
			opts = append(opts, rag.WithMinScore(score))
		}
	}

	matches, err := s.index.SearchSimilar(r.Context(), query, opts...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if matches == nil {
		matches = []rag.Match{}
	}

	WriteJSON(w, http.StatusOK, searchResponse{Query: query, Matches: matches}, s.logger)
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.index.IndexStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status, s.logger)
}
