//go:build wireinject
// +build wireinject

package wire

import (
	"log/slog"

	"github.com/google/wire"

	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/jobs"
)

func InitializeReviewJob(cfg *config.Config, logger *slog.Logger) (*jobs.ReviewJob, error) {
	wire.Build(ReviewSet)
	return nil, nil
}

func InitializeApp(cfg *config.Config, logger *slog.Logger) (*app.App, error) {
	wire.Build(AppSet)
	return nil, nil
}
