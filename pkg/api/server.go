// Package api exposes the engine over an authenticated HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/engine"
	"github.com/agentkit/agentd/pkg/telemetry"
)

const (
	httpTimeout     = 60 * time.Second
	httpIdleTimeout = 120 * time.Second
)

// Config carries the transport knobs.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// Server routes HTTP requests into the engine.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	server  *http.Server
	metrics *telemetry.Metrics
	host    string
	port    int
	logger  *slog.Logger
}

// NewServer builds the router and middleware chain.
func NewServer(e *engine.Engine, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  e,
		metrics: cfg.Metrics,
		host:    cfg.Host,
		port:    cfg.Port,
		logger:  logger.With("component", "http_api"),
	}
	s.setupRouter(cfg.CORSOrigins)
	return s
}

func (s *Server) setupRouter(corsOrigins []string) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.setupCORS(corsOrigins))
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Timeout(httpTimeout))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireBearerToken)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/sessions/{sessionID}/plans/import", s.handleImportPlan)
		r.Get("/sessions/{sessionID}/plans/{version}", s.handleGetPlan)
		r.Post("/sessions/{sessionID}/plans/{version}/approve", s.handleApprovePlan)
		r.Post("/sessions/{sessionID}/steps/{stepID}/approve", s.handleApproveStep)
		r.Post("/sessions/{sessionID}/steps/{stepID}/execute", s.handleExecuteStep)
		r.Post("/sessions/{sessionID}/stop", s.handleStopSession)
		r.Get("/sessions/{sessionID}/events/search", s.handleSearchEvents)
		r.Get("/sessions/{sessionID}/artifacts", s.handleListArtifacts)
		r.Get("/tools", s.handleListTools)
		r.Get("/tools/{toolName}/permissions", s.handleToolPermissions)
	})

	s.router = r
}

func (s *Server) setupCORS(origins []string) func(http.Handler) http.Handler {
	options := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		options.AllowedOrigins = []string{"*"}
		options.AllowCredentials = false
	}
	return cors.Handler(options)
}

// requireBearerToken rejects requests without a non-empty bearer token. The
// token value itself is opaque to the daemon.
func requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		token := ""
		if strings.HasPrefix(header, prefix) {
			token = strings.TrimSpace(header[len(prefix):])
		}
		if token == "" {
			writeError(w, &domainerrors.Error{
				Kind:   domainerrors.KindAuthMissing,
				Detail: "authorization header with bearer token is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		}
		s.logger.Info("request handled",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.router,
		ReadTimeout:  httpTimeout,
		WriteTimeout: httpTimeout,
		IdleTimeout:  httpIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		return err
	}
}

// Close drains in-flight requests and stops the listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	s.logger.Info("http api stopping")
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain error kinds onto HTTP statuses with the uniform
// {"detail": ...} failure body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domainerrors.KindOf(err) {
	case domainerrors.KindAuthMissing:
		status = http.StatusUnauthorized
	case domainerrors.KindNotFound:
		status = http.StatusNotFound
	case domainerrors.KindProtocolViolation:
		status = http.StatusConflict
	case domainerrors.KindInvalidInput:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"detail": domainerrors.DetailOf(err)})
}

// decodeBody unmarshals an optional JSON request body. An empty body leaves
// the destination at its zero value.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domainerrors.InvalidInput("body", "request body is not valid JSON")
}
