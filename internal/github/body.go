package github

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/sevigo/pr-warden/internal/core"
)

const footer = "🤖 *Generated with pr-warden*"

// ReviewerNames resolves a reviewer id to its display title.
type ReviewerNames interface {
	DisplayName(id string) string
}

// TemplateVars fills the ($Branch) ($Timestamp) ($Number) ($Title) placeholders.
type TemplateVars struct {
	Branch    string
	Timestamp string
	Number    int
	Title     string
}

// ExpandTemplate substitutes every placeholder in tmpl.
func ExpandTemplate(tmpl string, v TemplateVars) string {
	r := strings.NewReplacer(
		"($Branch)", v.Branch,
		"($Timestamp)", v.Timestamp,
		"($Number)", strconv.Itoa(v.Number),
		"($Title)", v.Title,
	)
	return r.Replace(tmpl)
}

// FixPRBodyData is everything the fix pull request description shows.
type FixPRBodyData struct {
	OriginalNumber int
	OriginalURL    string
	OriginalMerged bool
	RepoBaseURL    string
	Findings       []*core.Finding
	Names          ReviewerNames
}

// FixPRBody renders the fix pull request description with its status table.
func FixPRBody(d FixPRBodyData) string {
	var sb strings.Builder

	sb.WriteString("## 🔧 Automated fix PR\n\n")
	merged := ""
	if d.OriginalMerged {
		merged = " (merged)"
	}
	fmt.Fprintf(&sb, "This PR applies automated fixes for review findings on [PR #%d](%s)%s.\n\n", d.OriginalNumber, d.OriginalURL, merged)

	applied := 0
	for _, f := range d.Findings {
		if f.Applied() {
			applied++
		}
	}
	if applied < len(d.Findings) {
		fmt.Fprintf(&sb, "**Status**: 🔄 Applying fixes (%d/%d done)\n\n", applied, len(d.Findings))
	} else {
		fmt.Fprintf(&sb, "**Status**: ✅ All fixes applied (%d)\n\n", applied)
	}

	sb.WriteString("### Fixes\n\n")
	sb.WriteString("| # | Status | Reviewer | Title | Fix |\n")
	sb.WriteString("|---|--------|----------|-------|-----|\n")
	for _, f := range d.Findings {
		fmt.Fprintf(&sb, "| (%d) | %s | %s | %s | %s |\n",
			f.DisplayNumber(),
			statusCell(f, d.RepoBaseURL),
			escapePipes(displayName(d.Names, f.Reviewer)),
			titleCell(f),
			fixCell(f),
		)
	}

	sb.WriteString("\n### How to use\n\n")
	sb.WriteString("1. Check the review comment on each fix.\n")
	sb.WriteString("2. Merge this PR if the fixes look right.\n\n")
	sb.WriteString("---\n\n")
	sb.WriteString(footer)
	return sb.String()
}

func statusCell(f *core.Finding, repoBase string) string {
	if !f.Applied() {
		return "⏳ Pending"
	}
	short := shortHash(f.CommitHash)
	if repoBase == "" {
		return fmt.Sprintf("✅ `%s`", short)
	}
	return fmt.Sprintf("✅ [`%s`](%s/commit/%s)", short, repoBase, f.CommitHash)
}

func titleCell(f *core.Finding) string {
	name := "N/A"
	if file := f.TargetFile(); file != "" {
		name = path.Base(file)
	}
	title := escapePipes(f.Title)
	if f.CommentURL != "" {
		return fmt.Sprintf("`%s`<br>[%s](%s)", name, title, f.CommentURL)
	}
	return fmt.Sprintf("`%s`<br>%s", name, title)
}

func fixCell(f *core.Finding) string {
	if f.FixSummary == "" {
		return "-"
	}
	return escapePipes(strings.ReplaceAll(f.FixSummary, "\n", " "))
}

// ExplanationComment renders the review comment posted next to a fix.
func ExplanationComment(f *core.Finding, names ReviewerNames, repoBase string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## (%d) 【%s】%s\n\n%s", f.DisplayNumber(), displayName(names, f.Reviewer), f.Title, f.Description)

	if f.FixSummary != "" {
		fmt.Fprintf(&sb, "\n\n**Fix**: %s", f.FixSummary)
	}
	if f.Applied() {
		if repoBase != "" {
			fmt.Fprintf(&sb, "\n\n🔧 [View the fix](%s/commit/%s)", repoBase, f.CommitHash)
		} else {
			fmt.Fprintf(&sb, "\n\n🔧 Commit: `%s`", f.CommitHash)
		}
	}
	if f.Scenario != "" {
		fmt.Fprintf(&sb, "\n\n<details>\n<summary>Details</summary>\n\n### Scenario\n\n%s\n\n</details>", f.Scenario)
	}
	return sb.String()
}

// Progress comment bodies, posted on the original pull request.

func ProgressStartBody(author string) string {
	return fmt.Sprintf("## 🔍 Automated review started\n\n@%s Reviewing this PR. If problems are found, a fix PR will be opened automatically.\n\n**Status**: 🔄 Analyzing...\n\n---\n\n%s\n", author, footer)
}

func ProgressNoFindingsBody(author string) string {
	return fmt.Sprintf("## ✅ Automated review complete\n\n@%s No problems were found in this PR.\n\n**Status**: ✅ Done (no findings)\n\n---\n\n%s\n", author, footer)
}

func ProgressFixPRBody(author, fixPRURL string, total int) string {
	return fmt.Sprintf("## 🔧 Fix PR created\n\n@%s Found %d %s and opened a fix PR.\n\n**Status**: 🔄 Applying fixes...\n\n👉 **%s**\n\nProgress is tracked in the fix PR description.\n\n---\n\n%s\n",
		author, total, plural(total, "problem", "problems"), fixPRURL, footer)
}

func ProgressDoneBody(author, fixPRURL string, applied, failed, skipped int) string {
	total := applied + failed + skipped
	status := fmt.Sprintf("✅ All fixes applied (%d)", applied)
	if failed > 0 {
		status = fmt.Sprintf("⚠️ Some fixes failed (%d/%d succeeded)", applied, total)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## 🔧 Fix PR complete\n\n@%s Review the fix PR and merge it if the changes look right.\n\n**Status**: %s\n\n👉 **%s**\n\n", author, status, fixPRURL)
	if failed > 0 {
		fmt.Fprintf(&sb, "- ✅ Applied: %d\n- ❌ Failed: %d\n", applied, failed)
	}
	if skipped > 0 {
		fmt.Fprintf(&sb, "- ⏭️ Skipped: %d\n", skipped)
	}
	fmt.Fprintf(&sb, "\nEach fix is explained in a review comment.\n\n---\n\n%s\n", footer)
	return sb.String()
}

func displayName(names ReviewerNames, id string) string {
	if names == nil {
		return id
	}
	return names.DisplayName(id)
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
