package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"

	"github.com/sevigo/pr-warden/internal/config"
)

// CreateInstallationClient creates a client authenticated as one installation
// of the configured GitHub App. The installation transport refreshes its token
// on its own, so long running fix passes do not outlive it.
func CreateInstallationClient(cfg config.GitHubConfig, installationID int64, logger *slog.Logger) (Client, error) {
	if installationID <= 0 {
		installationID = cfg.InstallationID
	}
	if installationID <= 0 {
		return nil, fmt.Errorf("no installation id for GitHub App %d", cfg.AppID)
	}
	logger.Info("creating GitHub installation client", "installation_id", installationID)

	privateKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.PrivateKeyPath, err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, cfg.AppID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}
	return NewGitHubClient(github.NewClient(&http.Client{Transport: transport, Timeout: HTTPTimeout}), logger), nil
}

// NewClientFromConfig picks token authentication when a token is configured,
// App authentication otherwise.
func NewClientFromConfig(ctx context.Context, cfg config.GitHubConfig, logger *slog.Logger) (Client, error) {
	if cfg.Token != "" {
		return NewPATClient(ctx, cfg.Token, logger), nil
	}
	if cfg.AppID != 0 {
		return CreateInstallationClient(cfg, cfg.InstallationID, logger)
	}
	return nil, fmt.Errorf("github.token or github.app_id must be set")
}
