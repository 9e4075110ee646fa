// Package server provides the HTTP server setup and wiring.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	bountiesTransport "github.com/celution/bountyd/internal/bounties/transport"
	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/config"
	"github.com/celution/bountyd/internal/middleware/logging"
	"github.com/celution/bountyd/internal/middleware/ratelimit"
	"github.com/celution/bountyd/internal/middleware/realip"
	"github.com/celution/bountyd/internal/middleware/security"
	"github.com/celution/bountyd/internal/observability/metrics"
	"github.com/celution/bountyd/internal/proofbus"
	"github.com/celution/bountyd/internal/storage"
	verificationDomain "github.com/celution/bountyd/internal/verification/domain"
	verificationTransport "github.com/celution/bountyd/internal/verification/transport"
)

// MinClientVersion is the oldest CLI release the server answers.
const MinClientVersion = "0.1.0"

// Deps are the server's collaborators. Chain may be nil when no contract is
// configured.
type Deps struct {
	Store   storage.Store
	Bus     proofbus.Bus
	Chain   chains.Reader
	Version string
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	router *chi.Mux

	verificationSvc verificationTransport.Service
}

// New creates a new server
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
	}

	verifyImpl := verificationDomain.NewService(deps.Store, deps.Bus, logger)
	s.verificationSvc = verificationDomain.LoggingMiddleware(logger)(verifyImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (blocks malicious patterns, bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled, s.logger))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. Rate limiting (bypasses health checks)
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(compressExceptStream)

	// 6. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Signature")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

// compressExceptStream gzips responses but leaves websocket upgrades alone;
// the compressing writer cannot be hijacked.
func compressExceptStream(next http.Handler) http.Handler {
	compressed := middleware.Compress(5)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	// Metrics on the main port unless a dedicated port is configured
	if s.cfg.Metrics.Port == 0 {
		s.router.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	verificationHandler := verificationTransport.NewHandler(
		s.verificationSvc,
		s.deps.Bus,
		[]byte(s.cfg.Identity.CallbackSecret),
		s.logger,
	)

	version := bountiesTransport.VersionResponse{
		Version:          s.deps.Version,
		MinClientVersion: MinClientVersion,
		ChainID:          s.cfg.Chain.ChainID,
	}
	if addr, ok := s.cfg.Chain.Contract(); ok {
		version.Contract = strings.ToLower(addr.Hex())
	}
	bountiesHandler := bountiesTransport.NewHandler(s.deps.Chain, version, s.logger)

	// Identity provider callback and proof reads
	s.router.Route("/api", func(r chi.Router) {
		verificationHandler.RegisterRoutes(r)

		// API v1 routes: read-only chain views
		r.Route("/v1", bountiesHandler.RegisterRoutes)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the proof store is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
