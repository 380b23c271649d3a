// Package wire holds the dependency graph of the command line tool.
package wire

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/gitutil"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/reviewer"
	"github.com/sevigo/pr-warden/internal/server"
	"github.com/sevigo/pr-warden/internal/storage"
)

// ReviewSet builds a ReviewJob from a loaded config and logger.
var ReviewSet = wire.NewSet(
	jobs.NewReviewJob,
	llm.NewPromptManager,
	provideRunner,
	provideStore,
	provideCatalog,
	provideRepo,
	provideClientFactory,
	wire.Bind(new(jobs.WorkTree), new(*gitutil.Repo)),
)

// AppSet adds the webhook server and its dispatcher.
var AppSet = wire.NewSet(
	ReviewSet,
	app.NewApp,
	server.NewServer,
	provideDispatcher,
	wire.Bind(new(core.Job), new(*jobs.ReviewJob)),
	wire.Bind(new(core.JobDispatcher), new(*jobs.Dispatcher)),
)

func provideRunner(cfg *config.Config, logger *slog.Logger) llm.Runner {
	return llm.NewClaudeRunner(llm.ClaudeConfig{
		Binary:          cfg.Claude.Binary,
		Model:           cfg.Claude.Model,
		WorkDir:         cfg.ProjectPath,
		Debug:           cfg.Debug,
		AnalysisTimeout: cfg.Claude.AnalysisTimeout,
		FixTimeout:      cfg.Claude.FixTimeout,
	}, logger)
}

func provideStore(cfg *config.Config, logger *slog.Logger) storage.Store {
	return storage.NewStore(cfg.ReviewsDir, logger)
}

func provideCatalog(cfg *config.Config) (*reviewer.Catalog, error) {
	return reviewer.Load(cfg.Review.ReviewersDir)
}

func provideRepo(cfg *config.Config, logger *slog.Logger) *gitutil.Repo {
	return gitutil.NewRepo(cfg.ProjectPath, logger)
}

func provideClientFactory(cfg *config.Config, logger *slog.Logger) jobs.ClientFactory {
	return func(_ context.Context, installationID int64) (github.Client, error) {
		return github.CreateInstallationClient(cfg.GitHub, installationID, logger)
	}
}

func provideDispatcher(job core.Job, cfg *config.Config, logger *slog.Logger) *jobs.Dispatcher {
	return jobs.NewDispatcher(job, cfg.Server.MaxWorkers, logger)
}
