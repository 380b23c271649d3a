package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/reviewer"
)

var reviewersCmd = &cobra.Command{
	Use:   "reviewers",
	Short: "List the available reviewers",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		table := newTable(os.Stdout, "ID", "NAME", "ENABLED", "REPORT ONLY")
		for _, r := range catalog.All() {
			reportOnly := r.ReportOnly || slices.Contains(cfg.Review.ReportOnlyReviewers, r.ID)
			if err := table.Append([]string{
				r.ID,
				r.Title,
				yesNo(slices.Contains(cfg.Review.EnabledReviewers, r.ID)),
				yesNo(reportOnly),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(reviewersCmd)
}

func loadCatalog(cfg *config.Config) (*reviewer.Catalog, error) {
	catalog, err := reviewer.Load(cfg.Review.ReviewersDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load reviewers: %w", err)
	}
	return catalog, nil
}

func yesNo(b bool) string {
	if b {
		return successColor.Sprint("yes")
	}
	return "no"
}
