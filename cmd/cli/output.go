package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/jobs"
)

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
	boldColor    = color.New(color.Bold)
)

// stepTimer prints numbered steps and their duration.
type stepTimer struct {
	stepNum    int
	totalSteps int
	start      time.Time
	verbose    bool
}

func newStepTimer(totalSteps int, verbose bool) *stepTimer {
	return &stepTimer{totalSteps: totalSteps, verbose: verbose}
}

func (t *stepTimer) step(name string) {
	t.stepNum++
	t.start = time.Now()
	titleColor.Printf("\n▶ Step %d/%d: %s...\n", t.stepNum, t.totalSteps, name)
}

func (t *stepTimer) done(details ...string) {
	elapsed := time.Since(t.start).Round(time.Millisecond)
	successColor.Printf("   ✓ Done (%s)\n", elapsed)
	if t.verbose {
		for _, d := range details {
			dimColor.Printf("   └── %s\n", d)
		}
	}
}

func (t *stepTimer) info(format string, args ...any) {
	dimColor.Printf("   ├── "+format+"\n", args...)
}

func newTable(out io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewTable(out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// findingStatus is the one-word outcome of a finding's fix.
func findingStatus(f *core.Finding) string {
	switch {
	case f.Applied():
		return successColor.Sprint("applied")
	case f.NoChanges:
		return dimColor.Sprint("no changes")
	default:
		return warnColor.Sprint("not applied")
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func printFindings(out io.Writer, findings []*core.Finding, names github.ReviewerNames) error {
	table := newTable(out, "#", "REVIEWER", "TITLE", "LOCATION", "STATUS", "COMMIT")
	for _, f := range findings {
		num := "-"
		if n := f.DisplayNumber(); n > 0 {
			num = strconv.Itoa(n)
		}
		if err := table.Append([]string{
			num,
			names.DisplayName(f.Reviewer),
			f.Title,
			fmt.Sprintf("%s:%d", f.TargetFile(), f.TargetLine()),
			findingStatus(f),
			shortSHA(f.CommitHash),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// printRunResult is the summary shown after review and local runs.
func printRunResult(res *jobs.RunResult, names github.ReviewerNames) error {
	if res.Metadata == nil {
		successColor.Println("\n✅ Nothing to review.")
		return nil
	}
	meta := res.Metadata

	fmt.Println()
	titleColor.Println("📋 REVIEW SUMMARY")
	for _, id := range sortedReviewerIDs(meta) {
		st := meta.Reviewers[id]
		line := fmt.Sprintf("   %-24s %-10s %d finding(s)", names.DisplayName(id), st.Status, st.FindingsCount)
		if st.Status == core.StatusFailed {
			errorColor.Printf("%s  %s\n", line, st.Error)
			continue
		}
		fmt.Println(line)
	}

	if len(meta.Findings) == 0 {
		successColor.Println("\n✅ No issues found!")
	} else {
		fmt.Println()
		if err := printFindings(os.Stdout, meta.Findings, names); err != nil {
			return err
		}
	}

	if res.Summary != nil {
		fmt.Println()
		boldColor.Printf("Fixes: %d applied, %d failed, %d skipped\n",
			len(res.Summary.Applied), len(res.Summary.Failed), len(res.Summary.Skipped))
	}
	if v := meta.Verification; v != nil {
		c := successColor
		if v.Status != core.StatusCompleted {
			c = errorColor
		}
		c.Printf("Verification: %s after %d attempt(s)\n", v.Status, v.Attempts)
	}
	if res.FixPR != nil {
		successColor.Printf("Fix PR: %s\n", res.FixPR.URL)
	}
	if res.Handle.Dir != "" {
		dimColor.Printf("Review directory: %s\n", res.Handle.Dir)
	}
	dimColor.Printf("Engine cost: $%.4f over %d invocation(s)\n",
		meta.Usage.AnalysisCostUSD+meta.Usage.FixCostUSD, meta.Usage.Invocations)
	return nil
}
