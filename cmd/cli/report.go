package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/report"
	"github.com/sevigo/pr-warden/internal/storage"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the report of a review in the terminal",
	Long: `Render the report of a review in the terminal.

report.md is read from the review directory. Reviews without one, such as pull
request reviews, get a report generated from their metadata.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	reportCmd.Flags().StringVar(&reviewDir, "review-dir", "", "review directory (default: the current review)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store := storage.NewStore(cfg.ReviewsDir, logger)
	h, err := reviewHandle(store, reviewDir)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(h.ReportPath())
	if errors.Is(err, os.ErrNotExist) {
		meta, loadErr := store.Load(h)
		if loadErr != nil {
			return loadErr
		}
		catalog, catErr := loadCatalog(cfg)
		if catErr != nil {
			return catErr
		}
		content, err = []byte(report.Generate(meta, catalog)), nil
	}
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(string(content))
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	fmt.Print(out)
	return nil
}
