package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/storage"
	"github.com/sevigo/pr-warden/internal/wire"
)

var (
	fixPRNumber int
	reviewDir   string
	dryRun      bool
)

var fixPRCmd = &cobra.Command{
	Use:   "fix-pr",
	Short: "Publish the fixes of a saved review as a fix PR",
	Long: `Publish the fixes of a saved review as a fix PR.

The review is read from --review-dir or the current review. Every finding with
a commit gets a row in the PR body and an explanation comment.

Examples:
  pr-warden fix-pr --pr 123
  pr-warden fix-pr --pr 123 --review-dir .pr-review/reviews/123-20260102-030405 --dry-run`,
	Args: cobra.NoArgs,
	RunE: runFixPR,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	fixPRCmd.Flags().IntVar(&fixPRNumber, "pr", 0, "original pull request number")
	fixPRCmd.Flags().StringVar(&reviewDir, "review-dir", "", "review directory (default: the current review)")
	fixPRCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the fixes that would be published")
	_ = fixPRCmd.MarkFlagRequired("pr")
	rootCmd.AddCommand(fixPRCmd)
}

func runFixPR(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store := storage.NewStore(cfg.ReviewsDir, logger)
	h, err := reviewHandle(store, reviewDir)
	if err != nil {
		return err
	}
	meta, err := store.Load(h)
	if err != nil {
		return err
	}
	applied := meta.AppliedFindings()
	if len(applied) == 0 {
		return fmt.Errorf("review in %s has no findings with commits", h.Dir)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	titleColor.Printf("%d fix(es) from %s\n\n", len(applied), h.Dir)
	if err := printFindings(os.Stdout, applied, catalog); err != nil {
		return err
	}
	if dryRun {
		warnColor.Println("\n[DRY-RUN] no fix PR created")
		return nil
	}

	if err := cfg.ValidateForReview(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	owner, repoName, err := resolveRepository(cfg, logger)
	if err != nil {
		return err
	}
	client, err := github.NewClientFromConfig(ctx, cfg.GitHub, logger)
	if err != nil {
		return err
	}
	job, err := wire.InitializeReviewJob(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize review: %w", err)
	}
	res, err := job.PublishFixes(ctx, client, owner, repoName, h, fixPRNumber)
	if err != nil {
		return fmt.Errorf("failed to publish fixes: %w", err)
	}
	successColor.Printf("\n✅ Fix PR #%d: %s\n", res.FixPR.Number, res.FixPR.URL)
	return nil
}
