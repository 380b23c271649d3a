package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/server"
)

type nopJob struct{}

func (nopJob) Run(context.Context, *core.ReviewRequest) error { return nil }

func TestRunStopsDispatcher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Server: config.ServerConfig{Port: "0", MaxWorkers: 1}}
	dispatcher := jobs.NewDispatcher(nopJob{}, cfg.Server.MaxWorkers, logger)
	a := NewApp(cfg, server.NewServer(cfg, dispatcher, logger), dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))

	err := dispatcher.Dispatch(context.Background(), &core.ReviewRequest{PRNumber: 1})
	assert.ErrorIs(t, err, jobs.ErrDispatcherStopped)
}
