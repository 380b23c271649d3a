package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/wire"
)

var (
	baseBranch string
	noFix      bool
	fullLocal  bool
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Review the current branch against a base branch",
	Long: `Review the current branch against a base branch.

Fixes are committed on the current branch and never pushed. A report.md with a
summary table and every finding is written to the review directory.

Examples:
  pr-warden local
  pr-warden local --base develop --no-fix`,
	Args: cobra.NoArgs,
	RunE: runLocal,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	localCmd.Flags().StringVar(&baseBranch, "base", "main", "base branch to diff against")
	localCmd.Flags().BoolVar(&noFix, "no-fix", false, "only analyze; commit no fixes")
	localCmd.Flags().BoolVar(&fullLocal, "full", false, "review whole changed files instead of focusing on the diff")
	rootCmd.AddCommand(localCmd)
}

func runLocal(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	titleColor.Println("🚀 PR Warden - Local Review")
	dimColor.Printf("   Base: %s\n", baseBranch)

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	job, err := wire.InitializeReviewJob(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize review: %w", err)
	}
	res, err := job.ReviewLocal(ctx, jobs.LocalOptions{Base: baseBranch, NoFix: noFix, Full: fullLocal})
	if err != nil {
		return fmt.Errorf("local review failed: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if err := printRunResult(res, catalog); err != nil {
		return err
	}
	if res.Metadata != nil {
		dimColor.Printf("Report: %s\n", res.Handle.ReportPath())
		if res.Summary != nil && len(res.Summary.Applied) > 0 {
			dimColor.Println("Publish the fixes with: pr-warden fix-pr --pr <number>")
		}
	}
	dimColor.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
