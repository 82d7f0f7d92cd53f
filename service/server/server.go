package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/capfriends/service/config"
	"github.com/brojonat/capfriends/service/metrics"
	"github.com/brojonat/capfriends/service/swap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the swap service.
type Server struct {
	addr         string
	cfg          *config.Config
	orchestrator *swap.Orchestrator
	codec        swap.AddressCodec
	session      swap.Session
	tokens       TokenReader
	registry     *Registry
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server

	// ctx scopes the background work of swaps created through the API.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new HTTP server with the given dependencies.
// The session is optional - if nil, the wallet endpoint reports no connection.
// The tokens reader is optional - if nil, token details are not available.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, orch *swap.Orchestrator, codec swap.AddressCodec, session swap.Session, tokens TokenReader, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         addr,
		cfg:          cfg,
		orchestrator: orch,
		codec:        codec,
		session:      session,
		tokens:       tokens,
		registry:     NewRegistry(cfg.MaxSwaps, cfg.SwapTTL),
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Swap routes. Everything that changes state needs the API token.
	auth := requireToken(s.cfg.APIToken)
	mux.Handle("POST /api/v1/swaps", s.instrument("/api/v1/swaps", auth(handleCreateSwap(s.ctx, s.orchestrator, s.registry, s.logger))))
	mux.Handle("GET /api/v1/swaps/{id}", s.instrument("/api/v1/swaps/{id}", handleGetSwap(s.registry)))
	mux.Handle("POST /api/v1/swaps/{id}/simulate", s.instrument("/api/v1/swaps/{id}/simulate", auth(handleSimulateSwap(s.registry, s.logger))))
	mux.Handle("POST /api/v1/swaps/{id}/submit", s.instrument("/api/v1/swaps/{id}/submit", auth(handleSubmitSwap(s.registry, s.logger))))

	// Chain reads
	mux.Handle("GET /api/v1/tokens/{address}", s.instrument("/api/v1/tokens/{address}", handleGetToken(s.tokens, s.codec, s.logger)))
	mux.Handle("GET /api/v1/wallet", s.instrument("/api/v1/wallet", handleGetWallet(s.session, s.cfg)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/swaps/{target}", handleStreamSwaps(s.ssePublisher, s.codec, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/swaps", handleStreamSwaps(s.ssePublisher, s.codec, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(s.cfg.CORSAllowedOrigins)(mux)
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: SSE responses stay open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server and cancels the
// background work of every swap it created.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	s.registry.CloseAll()
	s.cancel()
	return err
}

// corsMiddleware adds CORS headers for the allowed origins and handles
// OPTIONS preflight requests. With no origins configured, no
// Access-Control-Allow-Origin header is sent and browsers on other
// origins are refused.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")

			// Handle preflight OPTIONS requests
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requireToken rejects requests that do not carry the bearer token. An
// empty token leaves the routes open; config.ValidateServer refuses that
// combination when a signing key is configured.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="capfriends"`)
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
