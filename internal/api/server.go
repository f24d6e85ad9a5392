package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/api/handlers"
	"github.com/bikeshrana/cnquant/internal/api/svc"
	"github.com/bikeshrana/cnquant/internal/audit"
	"github.com/bikeshrana/cnquant/internal/auth"
	"github.com/bikeshrana/cnquant/internal/config"
	"github.com/bikeshrana/cnquant/internal/core/events"
	ratelimit "github.com/bikeshrana/cnquant/internal/middleware"
	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/store"
)

// Server wraps the HTTP API (spec.md §3 DOMAIN STACK: chi router, JWT
// auth, rate limiting, websocket event streaming).
type Server struct {
	router *chi.Mux
	server *http.Server
	ws     *handlers.WebSocketHandler
	logger zerolog.Logger
}

// NewServer wires the service layer into a chi router and returns an
// unstarted Server.
func NewServer(cfg *config.ServerConfig, rlCfg config.RateLimitConfig, authCfg config.AuthConfig, st *store.Store, service *svc.Service, auditLogger *audit.AuditLogger, eventBus *events.EventBus, metrics *obs.EngineMetrics, logger zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(MetricsMiddleware(metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(middleware.SetHeader("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins))
	r.Use(middleware.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization"))

	limiter := ratelimit.NewRateLimiter(ratelimit.RateLimitConfig{
		RequestsPerSecond:   rlCfg.RequestsPerSecond,
		Burst:               rlCfg.Burst,
		CleanupInterval:     rlCfg.CleanupInterval,
		BacktestEndpointRPS: rlCfg.BacktestEndpointRPS,
		SignalEndpointRPS:   rlCfg.SignalEndpointRPS,
	}, logger)
	r.Use(limiter.Limit)

	jwtService := auth.NewJWTService(authCfg.JWTSecret, logger)
	jwtService.SetTTLs(authCfg.AccessTokenTTL, authCfg.RefreshTokenTTL)
	authMiddleware := auth.NewAuthMiddleware(jwtService, logger)

	healthHandler := handlers.NewHealthHandler(st, logger)
	authHandler := handlers.NewAuthHandler(st, jwtService, auditLogger, logger)
	signalsHandler := handlers.NewSignalsHandler(service, logger)
	backtestsHandler := handlers.NewBacktestsHandler(service, logger)
	reportsHandler := handlers.NewReportsHandler(service, logger)
	wsHandler := handlers.NewWebSocketHandler(logger, eventBus)

	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Post("/refresh", authHandler.RefreshToken)
		r.With(authMiddleware.Authenticate).Get("/me", authHandler.GetCurrentUser)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Route("/signals", func(r chi.Router) {
			r.Get("/", signalsHandler.ListTasks)
			r.Get("/{taskName}", signalsHandler.Evaluate)
		})

		r.Route("/backtests", func(r chi.Router) {
			r.Post("/{taskName}", backtestsHandler.Run)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/{taskName}", reportsHandler.Get)
		})
	})

	r.Get("/ws", wsHandler.HandleConnection)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{router: r, server: httpServer, ws: wsHandler, logger: logger}
}

// StartEventListener starts the websocket hub's event-bus subscription
// loop. Call in its own goroutine before Start.
func (s *Server) StartEventListener(ctx context.Context) {
	s.ws.StartEventListener(ctx)
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// LoggingMiddleware logs each HTTP request via zerolog.
func LoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// MetricsMiddleware records HTTP request counts and latency. Nil-safe: a
// nil registry turns this into a no-op pass-through.
func MetricsMiddleware(metrics *obs.EngineMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			if routePattern == "" {
				routePattern = r.URL.Path
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, routePattern, fmt.Sprintf("%d", ww.Status())).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
		})
	}
}
