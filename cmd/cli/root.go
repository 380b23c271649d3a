package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/logger"
	"github.com/sevigo/pr-warden/internal/storage"
)

var (
	configFile  string
	debug       bool
	projectPath string
)

var rootCmd = &cobra.Command{
	Use:   "pr-warden",
	Short: "pr-warden reviews pull requests and opens a PR with the fixes.",
	Long: `pr-warden runs a set of reviewers over a pull request or a local branch,
commits one fix per finding on a fix branch and explains every fix with a
review comment on the fix PR.`,
	SilenceUsage: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml or $HOME/.pr-warden/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging and per-reviewer debug files")
	rootCmd.PersistentFlags().StringVar(&projectPath, "project", "", "path of the git working tree to review (default .)")

	for key, flag := range map[string]string{"debug": "debug", "project.path": "project"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
			os.Exit(1)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.Prepare(viper.GetViper(), configFile)
}

// loadConfig builds the configuration for a command run, applies the
// per-repository overrides and sets up the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	rc, err := config.LoadRepoConfig(cfg.ProjectPath)
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
	case err != nil:
		return nil, nil, err
	default:
		cfg.ApplyRepoConfig(rc)
	}

	log := logger.NewLogger(cfg.Logging, nil)
	slog.SetDefault(log)
	return cfg, log, nil
}

// reviewHandle picks dir when given, the current review otherwise.
func reviewHandle(store storage.Store, dir string) (storage.Handle, error) {
	if dir != "" {
		return storage.Handle{Dir: dir}, nil
	}
	h, err := store.Current()
	if errors.Is(err, storage.ErrNoCurrentReview) {
		return h, fmt.Errorf("%w\n\nTip: Run 'pr-warden review' or 'pr-warden local' first, or pass --review-dir", err)
	}
	return h, err
}
