// Package config loads pr-warden settings from config files, the environment
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/pr-warden/internal/logger"
)

// EnvPrefix is prepended to every environment variable, e.g. PW_GITHUB_TOKEN.
const EnvPrefix = "PW"

const (
	DefaultBranchTemplate = "fix/pr-($Number)-($Timestamp)"
	DefaultTitleTemplate  = `[Auto-fix] #($Number) "($Title)"`
)

// Config holds the application's configuration values.
type Config struct {
	ProjectPath string
	ReviewsDir  string
	Debug       bool

	GitHub  GitHubConfig
	FixPR   FixPRConfig
	Review  ReviewConfig
	Claude  ClaudeConfig
	Server  ServerConfig
	Logging logger.Config
}

// GitHubConfig covers both personal token and GitHub App authentication.
type GitHubConfig struct {
	Repo           string
	Token          string
	AppID          int64
	PrivateKeyPath string
	InstallationID int64
	WebhookSecret  string
}

type FixPRConfig struct {
	BranchTemplate string
	TitleTemplate  string
}

type ReviewConfig struct {
	EnabledReviewers      []string
	ReportOnlyReviewers   []string
	ReviewersDir          string
	FocusOnChanges        bool
	VerifyCommand         string
	CompileFixMaxAttempts int
	VerifyTimeout         time.Duration
}

type ClaudeConfig struct {
	Binary          string
	Model           string
	AnalysisTimeout time.Duration
	FixTimeout      time.Duration
}

type ServerConfig struct {
	Port       string
	MaxWorkers int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project.path", ".")
	v.SetDefault("fix_pr.branch_template", DefaultBranchTemplate)
	v.SetDefault("fix_pr.title_template", DefaultTitleTemplate)
	v.SetDefault("review.enabled_reviewers", []string{"runtime_error"})
	v.SetDefault("review.report_only_reviewers", []string{})
	v.SetDefault("review.focus_on_changes", true)
	v.SetDefault("review.compile_fix_max_attempts", 3)
	v.SetDefault("review.verify_timeout", 10*time.Minute)
	v.SetDefault("claude.binary", "claude")
	v.SetDefault("claude.model", "sonnet")
	v.SetDefault("claude.analysis_timeout", 300*time.Second)
	v.SetDefault("claude.fix_timeout", 600*time.Second)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_workers", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

// Prepare wires file lookup and environment handling into v. An explicit
// configFile wins over the search path.
func Prepare(v *viper.Viper, configFile string) {
	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pr-warden"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads the config file if there is one and builds a Config.
// A missing config file is not an error.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	projectPath, err := filepath.Abs(v.GetString("project.path"))
	if err != nil {
		return nil, fmt.Errorf("invalid project path %q: %w", v.GetString("project.path"), err)
	}
	reviewsDir := v.GetString("reviews_dir")
	if reviewsDir == "" {
		reviewsDir = filepath.Join(projectPath, ".pr-review", "reviews")
	}

	cfg := &Config{
		ProjectPath: projectPath,
		ReviewsDir:  reviewsDir,
		Debug:       v.GetBool("debug"),
		GitHub: GitHubConfig{
			Repo:           v.GetString("github.repo"),
			Token:          v.GetString("github.token"),
			AppID:          v.GetInt64("github.app_id"),
			PrivateKeyPath: v.GetString("github.private_key_path"),
			InstallationID: v.GetInt64("github.installation_id"),
			WebhookSecret:  v.GetString("github.webhook_secret"),
		},
		FixPR: FixPRConfig{
			BranchTemplate: v.GetString("fix_pr.branch_template"),
			TitleTemplate:  v.GetString("fix_pr.title_template"),
		},
		Review: ReviewConfig{
			EnabledReviewers:      v.GetStringSlice("review.enabled_reviewers"),
			ReportOnlyReviewers:   v.GetStringSlice("review.report_only_reviewers"),
			ReviewersDir:          v.GetString("review.reviewers_dir"),
			FocusOnChanges:        v.GetBool("review.focus_on_changes"),
			VerifyCommand:         v.GetString("review.verify_command"),
			CompileFixMaxAttempts: v.GetInt("review.compile_fix_max_attempts"),
			VerifyTimeout:         v.GetDuration("review.verify_timeout"),
		},
		Claude: ClaudeConfig{
			Binary:          v.GetString("claude.binary"),
			Model:           v.GetString("claude.model"),
			AnalysisTimeout: v.GetDuration("claude.analysis_timeout"),
			FixTimeout:      v.GetDuration("claude.fix_timeout"),
		},
		Server: ServerConfig{
			Port:       v.GetString("server.port"),
			MaxWorkers: v.GetInt("server.max_workers"),
		},
		Logging: logger.Config{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
			Output: v.GetString("logging.output"),
		},
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	if cfg.Review.CompileFixMaxAttempts < 0 {
		return nil, fmt.Errorf("review.compile_fix_max_attempts must not be negative, got %d", cfg.Review.CompileFixMaxAttempts)
	}
	return cfg, nil
}

// ValidateForReview checks what a token-authenticated review run needs.
func (c *Config) ValidateForReview() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token must be set")
	}
	return nil
}

// ValidateForServer checks what the webhook server needs.
func (c *Config) ValidateForServer() error {
	if c.GitHub.AppID == 0 {
		return fmt.Errorf("github.app_id must be set")
	}
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github.webhook_secret must be set")
	}
	if c.GitHub.PrivateKeyPath == "" {
		return fmt.Errorf("github.private_key_path must be set")
	}
	return nil
}
