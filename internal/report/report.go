// Package report renders the markdown summary written at the end of a local
// review.
package report

import (
	"fmt"
	"strings"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
)

const dateLayout = "2006-01-02 15:04:05"

// Generate renders report.md for meta. Findings are listed in display order.
func Generate(meta *core.Metadata, names github.ReviewerNames) string {
	var sb strings.Builder

	branch := meta.PR.HeadBranch
	if branch == "" {
		branch = strings.TrimPrefix(meta.PR.Repository, "local/")
	}
	fmt.Fprintf(&sb, "# Review Report: %s\n\n", branch)
	fmt.Fprintf(&sb, "- **Branch**: `%s`\n", branch)
	if meta.PR.BaseBranch != "" {
		fmt.Fprintf(&sb, "- **Base**: `%s`\n", meta.PR.BaseBranch)
	}
	fmt.Fprintf(&sb, "- **Date**: %s\n", meta.StartedAt.Local().Format(dateLayout))
	fmt.Fprintf(&sb, "- **Files changed**: %d\n", len(meta.ChangedFiles))
	fmt.Fprintf(&sb, "- **Findings**: %d\n\n", len(meta.Findings))

	if len(meta.Findings) == 0 {
		sb.WriteString("No problems were found.\n")
		return sb.String()
	}

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| # | Reviewer | Title | File | Line | Status |\n")
	sb.WriteString("|---|----------|-------|------|------|--------|\n")
	for i, f := range meta.Findings {
		fmt.Fprintf(&sb, "| %d | %s | %s | `%s` | %d | %s |\n",
			number(f, i), reviewerName(names, f.Reviewer), cell(f.Title),
			f.TargetFile(), f.TargetLine(), status(f))
	}

	sb.WriteString("\n## Details\n\n")
	for i, f := range meta.Findings {
		fmt.Fprintf(&sb, "### (%d) %s\n\n", number(f, i), f.Title)
		fmt.Fprintf(&sb, "- **Reviewer**: %s\n", reviewerName(names, f.Reviewer))
		fmt.Fprintf(&sb, "- **File**: `%s`\n", f.TargetFile())
		fmt.Fprintf(&sb, "- **Lines**: %s\n", lineRange(f))
		if f.CommitHash != "" {
			fmt.Fprintf(&sb, "- **Commit**: `%s`\n", f.CommitHash)
		}
		sb.WriteString("\n")
		if f.Description != "" {
			fmt.Fprintf(&sb, "%s\n\n", f.Description)
		}
		if f.Scenario != "" {
			fmt.Fprintf(&sb, "**Scenario**\n\n%s\n\n", f.Scenario)
		}
		if f.FixPlan != "" {
			fmt.Fprintf(&sb, "**Fix plan**\n\n%s\n\n", f.FixPlan)
		}
		sb.WriteString("---\n\n")
	}
	return sb.String()
}

func number(f *core.Finding, i int) int {
	if n := f.DisplayNumber(); n > 0 {
		return n
	}
	return i + 1
}

// status treats a recorded fix location as applied, like the fix pass does.
func status(f *core.Finding) string {
	switch {
	case f.File != "":
		return "✅ applied"
	case f.NoChanges:
		return "➖ no changes"
	default:
		return "📝 reported"
	}
}

func lineRange(f *core.Finding) string {
	start, end := f.TargetLine(), f.TargetLineEnd()
	if end > start {
		return fmt.Sprintf("%d-%d", start, end)
	}
	return fmt.Sprintf("%d", start)
}

func reviewerName(names github.ReviewerNames, id string) string {
	if names == nil {
		return id
	}
	return names.DisplayName(id)
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}
