package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirrortrade/assistant/internal/chat"
	"github.com/mirrortrade/assistant/internal/config"
	"github.com/mirrortrade/assistant/internal/log"
	"github.com/mirrortrade/assistant/internal/rag"
)

// AssistantService is the conversational surface the API puts online.
type AssistantService interface {
	Chat(ctx context.Context, userID string, sessionID *uuid.UUID, question, channel string) (*chat.Reply, error)
	EscalateToHuman(ctx context.Context, userID string, sessionID uuid.UUID, reason string) (*chat.Session, error)
	SessionHistory(ctx context.Context, userID string, sessionID uuid.UUID, limit, offset int) (*chat.Session, []chat.Message, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]chat.Session, int, error)
}

// IndexService is the retrieval-index surface the API puts online.
type IndexService interface {
	IndexArticle(ctx context.Context, id uuid.UUID) error
	IndexAllPublished(ctx context.Context) (rag.Report, error)
	SearchSimilar(ctx context.Context, query string, opts ...rag.SearchOption) ([]rag.Match, error)
	IndexStatus(ctx context.Context) (rag.Status, error)
}

// Pinger is the readiness probe's view of the database. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the assistant.
type Server struct {
	cfg       config.ServerConfig
	assistant AssistantService
	index     IndexService
	db        Pinger
	logger    log.Logger

	limiter *ipRateLimiter
	metrics *metrics
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer builds the server and its full middleware stack. A nil registry
// gets a private one, which keeps tests isolated.
func NewServer(cfg config.ServerConfig, assistant AssistantService, index IndexService, db Pinger, reg *prometheus.Registry, logger log.Logger) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:       cfg,
		assistant: assistant,
		index:     index,
		db:        db,
		logger:    logger.With("component", "api"),
		limiter:   newIPRateLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:   newMetrics(reg),
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleSessionHistory)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/escalate", s.handleEscalate)
	s.mux.HandleFunc("POST /api/v1/kb/index", s.handleIndexAll)
	s.mux.HandleFunc("POST /api/v1/kb/{id}/index", s.handleIndexArticle)
	s.mux.HandleFunc("GET /api/v1/kb/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/v1/kb/index/status", s.handleIndexStatus)

	api := chain(s.mux,
		s.recovery,
		s.requestID,
		s.logging,
		s.instrument,
		s.cors,
		s.rateLimit,
		s.userIdentity,
	)

	// Probes and metrics sit outside the stack: no rate limit, no identity,
	// no per-request log noise.
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealthz)
	root.HandleFunc("GET /readyz", s.handleReadyz)
	root.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	root.Handle("/", api)

	s.handler = root
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains connections within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case chat.IsInvalidInput(err):
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), s.logger)
	case errors.Is(err, chat.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "session not found", s.logger)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "timeout", "request timed out", s.logger)
	default:
		s.logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal", "internal server error", s.logger)
	}
}

// pathUUID parses the {id} path segment.
func pathUUID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

// queryInt reads an integer query parameter, falling back on absence or junk.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
