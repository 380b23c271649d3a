package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/storage"
)

var outputJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the state of the current review",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
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

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(meta)
		}

		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		titleColor.Printf("Review of %s #%d (%s)\n", meta.PR.Repository, meta.PR.Number, meta.Status)
		dimColor.Printf("%s → %s, started %s, updated %s\n\n",
			meta.PR.HeadBranch, meta.PR.BaseBranch,
			meta.StartedAt.Format(time.RFC822), meta.UpdatedAt.Format(time.RFC822))

		table := newTable(os.Stdout, "PHASE", "STATUS", "STARTED", "COMPLETED")
		for _, p := range core.Phases {
			st := meta.Phase(p)
			if err := table.Append([]string{string(p), string(st.Status), formatTime(st.StartedAt), formatTime(st.CompletedAt)}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		fmt.Println()
		table = newTable(os.Stdout, "REVIEWER", "STATUS", "FINDINGS", "ERROR")
		for _, id := range sortedReviewerIDs(meta) {
			st := meta.Reviewers[id]
			if err := table.Append([]string{catalog.DisplayName(id), string(st.Status), fmt.Sprint(st.FindingsCount), st.Error}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		if len(meta.Findings) > 0 {
			fmt.Println()
			if err := printFindings(os.Stdout, meta.Findings, catalog); err != nil {
				return err
			}
		}
		if meta.FixPR != nil {
			fmt.Println()
			boldColor.Printf("Fix PR #%d: %s (branch %s)\n", meta.FixPR.Number, meta.FixPR.URL, meta.FixPR.Branch)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output the review metadata as JSON")
	statusCmd.Flags().StringVar(&reviewDir, "review-dir", "", "review directory (default: the current review)")
	rootCmd.AddCommand(statusCmd)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.TimeOnly)
}

func sortedReviewerIDs(meta *core.Metadata) []string {
	ids := make([]string, 0, len(meta.Reviewers))
	for id := range meta.Reviewers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
