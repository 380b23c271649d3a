// Package app runs the webhook server together with its review workers.
package app

import (
	"context"
	"log/slog"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/server"
)

// App holds the long running components of the serve command.
type App struct {
	cfg        *config.Config
	server     *server.Server
	dispatcher *jobs.Dispatcher
	logger     *slog.Logger
}

// NewApp assembles the application.
func NewApp(cfg *config.Config, srv *server.Server, dispatcher *jobs.Dispatcher, logger *slog.Logger) *App {
	return &App{cfg: cfg, server: srv, dispatcher: dispatcher, logger: logger}
}

// Run serves webhooks until ctx is canceled. Queued reviews are allowed to
// finish before it returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting pr-warden server",
		"server_port", a.cfg.Server.Port,
		"max_workers", a.cfg.Server.MaxWorkers,
		"project", a.cfg.ProjectPath,
		"repo", a.cfg.GitHub.Repo)

	err := a.server.Run(ctx)
	if err != nil {
		a.logger.Error("HTTP server stopped with error", "error", err)
	}

	a.dispatcher.Stop()
	if err != nil {
		return err
	}
	a.logger.Info("pr-warden stopped")
	return nil
}
