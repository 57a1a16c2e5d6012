// Package api serves the Jambonz webhooks, the audio stream WebSocket
// endpoint, health and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flowpbx/streamecho/internal/api/middleware"
	"github.com/flowpbx/streamecho/internal/session"
	"github.com/flowpbx/streamecho/internal/stream"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Options configures the HTTP surface.
type Options struct {
	// Stream tunes each upgraded audio stream connection.
	Stream stream.Options
	// RateLimit is the per-IP request rate on the call webhook. Zero
	// disables limiting.
	RateLimit float64
	RateBurst int
	// CORSOrigins lists origins allowed to read /health and /metrics.
	CORSOrigins []string
	TLSEnabled  bool
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	ctrl     *session.Controller
	opts     Options
	upgrader *websocket.Upgrader
	limiter  *middleware.IPRateLimiter
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for testing

	// streams counts running stream handlers. Upgraded connections are not
	// tracked by http.Server.Shutdown.
	streams sync.WaitGroup
}

// NewServer creates the HTTP handler with all routes mounted. Call Close when
// done to stop the rate limiter.
func NewServer(ctrl *session.Controller, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		ctrl:     ctrl,
		opts:     opts,
		upgrader: stream.NewUpgrader(),
		logger:   logger.With("subsystem", "api"),
		nowFunc:  time.Now,
	}
	if opts.RateLimit > 0 {
		cfg := middleware.DefaultRateLimitConfig()
		cfg.Rate = rate.Limit(opts.RateLimit)
		cfg.Burst = opts.RateBurst
		s.limiter = middleware.NewIPRateLimiter(cfg, logger)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// WaitStreams blocks until every stream handler has returned, which happens
// once its close frame has been written, or until ctx is done. Call it after
// http.Server.Shutdown and session.Controller.Shutdown so no new streams start.
func (s *Server) WaitStreams(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders(s.opts.TLSEnabled))

	// Platform callbacks.
	// Only the webhook is limited; status callbacks carry teardown and must
	// always be acknowledged.
	r.Route("/jambonz", func(r chi.Router) {
		limited := r.With(middleware.RateLimit(s.limiter))
		limited.Post("/webhook", s.handleWebhook)
		limited.Get("/webhook", s.handleWebhook)
		r.Post("/status", s.handleStatus)
	})

	// Audio streams.
	r.Get(session.StreamPath, s.handleStream)
	r.Get(session.StreamPath+"/{callSid}", s.handleStream)

	// Operational endpoints.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(s.opts.CORSOrigins))
		r.Get("/health", s.handleHealth)
		if s.opts.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{
				ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
			}))
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("routes mounted")
}

// healthResponse is the shape returned by GET /health.
type healthResponse struct {
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	ActiveConnections int    `json:"activeConnections"`
}

// handleHealth reports liveness and the number of live stream sessions. The
// body uses the same data envelope as every other JSON route.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		Timestamp:         s.nowFunc().UTC().Format(time.RFC3339),
		ActiveConnections: s.ctrl.Count(),
	})
}
