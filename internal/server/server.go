package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/server/handler"
	"github.com/alanyoungcy/deepsentinel/internal/server/middleware"
	"github.com/alanyoungcy/deepsentinel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the agent control endpoints. Empty disables it.
	APIKey     string
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Agents    *handler.AgentHandler
	Trades    *handler.TradeHandler
	Dashboard *handler.DashboardHandler
}

// Deps are the optional collaborators of the server.
type Deps struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Gatherer prometheus.Gatherer
}

// Server is the HTTP + WebSocket API of the dashboard.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/agents", handlers.Agents.ListAgents)
	mux.HandleFunc("GET /api/agents/{id}", handlers.Agents.GetAgent)
	mux.HandleFunc("PUT /api/agents/{id}/config", handlers.Agents.UpdateConfig)
	mux.HandleFunc("POST /api/agents/{id}/start", handlers.Agents.StartAgent)
	mux.HandleFunc("POST /api/agents/{id}/stop", handlers.Agents.StopAgent)

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)

	mux.HandleFunc("GET /api/dashboard/overview", handlers.Dashboard.Overview)
	mux.HandleFunc("GET /api/dashboard/activity-feed", handlers.Dashboard.ActivityFeed)
	mux.HandleFunc("GET /api/dashboard/profit-chart", handlers.Dashboard.ProfitChart)
	mux.HandleFunc("GET /api/analytics/summary", handlers.Dashboard.Summary)
	mux.HandleFunc("GET /api/analytics/profit-by-agent", handlers.Dashboard.ProfitByAgent)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	h = middleware.ControlAuth(cfg.APIKey)(h)
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
