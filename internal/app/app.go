// Package app provides the top-level lifecycle of the sentinel daemon. It
// wires the shared infrastructure (stores, Redis, object storage, metrics,
// notifications) and starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/deepsentinel/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the configured mode and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("runs_agents", a.cfg.RunsAgents()),
		slog.Bool("serves_http", a.cfg.ServesHTTP()),
		slog.Bool("archive", a.cfg.Archive.Enabled),
		slog.String("decision", a.cfg.Decision.Kind),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case config.ModeAgent:
		return a.AgentMode(ctx, deps)
	case config.ModeServer:
		return a.ServerMode(ctx, deps)
	case config.ModeFull:
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases the database, Redis and object storage clients in reverse
// order. Later calls do nothing.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
