package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/gitutil"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/wire"
)

var (
	noPR       bool
	fullReview bool
)

var reviewCmd = &cobra.Command{
	Use:   "review <pr-number|pr-url>",
	Short: "Review a GitHub pull request and open a fix PR",
	Long: `Review a GitHub pull request.

Every enabled reviewer analyzes the change in parallel. Findings are fixed one
commit at a time on a fresh fix branch, published as a draft fix PR against the
original PR and explained with one review comment per fix.

Examples:
  pr-warden review 123
  pr-warden review https://github.com/owner/repo/pull/123
  pr-warden review --no-pr --full 123`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	reviewCmd.Flags().BoolVar(&noPR, "no-pr", false, "only analyze; create no fix branch and post nothing")
	reviewCmd.Flags().BoolVar(&fullReview, "full", false, "review whole changed files instead of focusing on the diff")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	timer := newStepTimer(3, debug)
	overallStart := time.Now()

	titleColor.Println("🚀 PR Warden - Pull Request Review")
	dimColor.Printf("   Target: %s\n", args[0])

	timer.step("Initializing")
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForReview(); err != nil {
		return fmt.Errorf("%w\n\nTip: Set PW_GITHUB_TOKEN or github.token in config.yaml", err)
	}
	job, err := wire.InitializeReviewJob(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize review: %w", err)
	}
	owner, repoName, number, err := resolveTarget(cfg, args[0], logger)
	if err != nil {
		return err
	}
	client, err := github.NewClientFromConfig(ctx, cfg.GitHub, logger)
	if err != nil {
		return err
	}
	timer.info("Repository: %s/%s", owner, repoName)
	timer.info("Reviewers: %s", strings.Join(cfg.Review.EnabledReviewers, ", "))
	timer.done()

	timer.step("Reviewing PR #" + strconv.Itoa(number))
	res, err := job.ReviewPR(ctx, client, owner, repoName, jobs.ReviewOptions{
		Number: number,
		NoPR:   noPR,
		Full:   fullReview,
	})
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}
	timer.done()

	timer.step("Summarizing")
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if err := printRunResult(res, catalog); err != nil {
		return err
	}
	timer.done(fmt.Sprintf("Total time: %s", time.Since(overallStart).Round(time.Millisecond)))
	return nil
}

// resolveTarget accepts either a pull request URL or a number. A bare
// number is resolved against github.repo or the origin remote.
func resolveTarget(cfg *config.Config, target string, logger *slog.Logger) (owner, repo string, number int, err error) {
	if strings.Contains(target, "/pull/") {
		return gitutil.ParsePullRequestURL(target)
	}
	number, err = strconv.Atoi(strings.TrimPrefix(target, "#"))
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid pull request number %q", target)
	}
	owner, repo, err = resolveRepository(cfg, logger)
	return owner, repo, number, err
}

func resolveRepository(cfg *config.Config, logger *slog.Logger) (owner, repo string, err error) {
	if cfg.GitHub.Repo != "" {
		parts := strings.Split(cfg.GitHub.Repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("github.repo must be owner/name, got %q", cfg.GitHub.Repo)
		}
		return parts[0], parts[1], nil
	}
	remote, err := gitutil.NewRepo(cfg.ProjectPath, logger).RemoteURL()
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve repository from origin: %w\n\nTip: Set github.repo in config.yaml", err)
	}
	return gitutil.ParseRepository(remote)
}

// withTimeout is used by commands that only talk to GitHub.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*time.Minute)
}
