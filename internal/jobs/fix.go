package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/storage"
)

// FixStatus is the outcome of one finding in the fix pass.
type FixStatus string

const (
	FixApplied   FixStatus = "applied"
	FixFailed    FixStatus = "failed"
	FixSkipped   FixStatus = "skipped"
	FixNoChanges FixStatus = "no_changes"
)

// FixOutcome is handed to the per-finding callback once the result has
// been persisted.
type FixOutcome struct {
	Finding  *core.Finding
	Status   FixStatus
	Strategy string
	Err      error
}

// FixCallback runs synchronously after each attempted finding, in order.
type FixCallback func(ctx context.Context, out FixOutcome)

// FixSummary groups findings by what the fix pass did with them.
type FixSummary struct {
	Applied []*core.Finding
	Failed  []*core.Finding
	Skipped []*core.Finding
}

// Fixer asks the external engine to apply and commit one finding's fix plan.
type Fixer interface {
	Fix(ctx context.Context, f *core.Finding) (*llm.Response, error)
}

// CommitLookup is the version control history used to attribute commits.
type CommitLookup interface {
	FindCommitByMessage(ctx context.Context, pattern string) (string, error)
	HeadCommit() (string, error)
}

// CommitMessagePattern is the git log --grep pattern (basic regex) that
// matches the commit message the fix prompts ask for.
func CommitMessagePattern(number int) string {
	return fmt.Sprintf(`\[PR Review\] (%d)`, number)
}

// fixAttempt is everything known after one fix invocation.
type fixAttempt struct {
	finding    *core.Finding
	resp       *llm.Response
	report     *llm.FixReport
	grepBefore string
	headBefore string
	// Without a snapshot there is no telling a new commit from an old one.
	grepSnapshot bool
	headSnapshot bool
}

// commitStrategy recovers the commit produced by a fix invocation.
type commitStrategy struct {
	Name string
	Find func(ctx context.Context, lookup CommitLookup, a *fixAttempt) (string, bool)
}

// commitStrategies is tried in order. The engine's report of what it did is
// unreliable, so each later step trusts it less and version control more.
// Only history_grep can succeed after the invocation itself failed.
var commitStrategies = []commitStrategy{
	{Name: "structured_report", Find: commitFromReport},
	{Name: "response_text", Find: commitFromText},
	{Name: "history_grep", Find: commitFromHistory},
	{Name: "head_after_commit", Find: commitFromHead},
}

func commitFromReport(_ context.Context, _ CommitLookup, a *fixAttempt) (string, bool) {
	if a.report == nil || a.report.CommitHash == "" {
		return "", false
	}
	return a.report.CommitHash, true
}

func commitFromText(_ context.Context, _ CommitLookup, a *fixAttempt) (string, bool) {
	if a.resp == nil {
		return "", false
	}
	return llm.CommitHashFromText(a.resp.Text)
}

func commitFromHistory(ctx context.Context, lookup CommitLookup, a *fixAttempt) (string, bool) {
	if !a.grepSnapshot {
		return "", false
	}
	after, err := lookup.FindCommitByMessage(ctx, CommitMessagePattern(a.finding.DisplayNumber()))
	if err != nil || after == "" || after == a.grepBefore {
		return "", false
	}
	return after, true
}

func commitFromHead(_ context.Context, lookup CommitLookup, a *fixAttempt) (string, bool) {
	if a.resp == nil || !a.headSnapshot {
		return "", false
	}
	text := strings.ToLower(a.resp.Text)
	if !strings.Contains(text, "git push") && !strings.Contains(text, "git commit") {
		return "", false
	}
	head, err := lookup.HeadCommit()
	if err != nil || len(head) != 40 || head == a.headBefore {
		return "", false
	}
	return head, true
}

// RunFixApplicationPhase applies fixes one finding at a time in persisted
// order. Findings that already carry a commit are not attempted again, which
// makes the pass resumable after a crash. Every outcome is persisted before
// onResult is called.
func (c *Controller) RunFixApplicationPhase(ctx context.Context, fixer Fixer, lookup CommitLookup, reportOnly []string, onResult FixCallback) (*FixSummary, error) {
	if err := c.BeginPhase(core.PhaseFixApplication); err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(reportOnly))
	for _, id := range reportOnly {
		skip[id] = true
	}

	findings := append([]*core.Finding(nil), c.Metadata().Findings...)
	summary := &FixSummary{}
	for _, f := range findings {
		switch {
		case f.Applied():
			c.logger.Info("fix already applied, skipping", "finding", f.DisplayNumber(), "commit", f.CommitHash)
			summary.Applied = append(summary.Applied, f)
			continue
		case skip[f.Reviewer]:
			c.logger.Info("report-only reviewer, skipping fix", "finding", f.DisplayNumber(), "reviewer", f.Reviewer)
			summary.Skipped = append(summary.Skipped, f)
			continue
		case strings.TrimSpace(f.FixPlan) == "":
			c.logger.Info("no fix plan, skipping", "finding", f.DisplayNumber())
			summary.Skipped = append(summary.Skipped, f)
			continue
		}

		out, err := c.applyFix(ctx, fixer, lookup, f)
		if err != nil {
			return summary, err
		}
		switch out.Status {
		case FixApplied:
			summary.Applied = append(summary.Applied, f)
		case FixNoChanges:
			summary.Skipped = append(summary.Skipped, f)
		default:
			summary.Failed = append(summary.Failed, f)
		}
		if onResult != nil {
			onResult(ctx, out)
		}
	}

	if err := c.EndPhase(core.PhaseFixApplication, core.StatusCompleted); err != nil {
		return summary, err
	}
	c.logger.Info("fix application completed",
		"applied", len(summary.Applied), "failed", len(summary.Failed), "skipped", len(summary.Skipped))
	return summary, nil
}

// applyFix returns an error only when the outcome could not be persisted.
func (c *Controller) applyFix(ctx context.Context, fixer Fixer, lookup CommitLookup, f *core.Finding) (FixOutcome, error) {
	num := f.DisplayNumber()
	a := &fixAttempt{finding: f}
	var err error
	if a.grepBefore, err = lookup.FindCommitByMessage(ctx, CommitMessagePattern(num)); err != nil {
		c.logger.Warn("failed to snapshot commit history", "finding", num, "error", err)
	} else {
		a.grepSnapshot = true
	}
	if a.headBefore, err = lookup.HeadCommit(); err != nil {
		c.logger.Warn("failed to snapshot HEAD", "finding", num, "error", err)
	} else {
		a.headSnapshot = true
	}

	start := time.Now()
	resp, runErr := fixer.Fix(ctx, f)
	if runErr == nil {
		a.resp = resp
		a.report, _ = llm.ExtractFixReport(resp)
	} else {
		c.logger.Warn("fix invocation failed, checking history", "finding", num, "error", runErr)
	}

	out := FixOutcome{Finding: f, Status: FixFailed}
	var hash string
	for _, s := range commitStrategies {
		if h, ok := s.Find(ctx, lookup, a); ok {
			hash, out.Strategy = h, s.Name
			break
		}
	}

	switch {
	case hash != "":
		out.Status = FixApplied
	case a.report != nil && a.report.NoChanges:
		out.Status = FixNoChanges
	case runErr != nil:
		out.Err = runErr
	default:
		out.Err = fmt.Errorf("finding %d: %w", num, llm.ErrNoCommitHash)
	}

	err = c.Update(func(m *core.Metadata) {
		if resp != nil {
			m.Usage.FixCostUSD += resp.CostUSD
		}
		m.Usage.Invocations++
		switch out.Status {
		case FixApplied:
			setFixLocation(f, a.report)
			f.CommitHash = hash
		case FixNoChanges:
			f.NoChanges = true
		}
	})
	if err != nil {
		return out, err
	}

	if out.Status == FixFailed {
		c.logger.Error("fix failed", "finding", num, "duration", time.Since(start), "error", out.Err)
	} else {
		c.logger.Info("fix finished", "finding", num, "status", out.Status, "strategy", out.Strategy, "commit", hash, "duration", time.Since(start))
	}
	return out, nil
}

// setFixLocation prefers the location the engine reported and falls back to
// the finding's source location.
func setFixLocation(f *core.Finding, report *llm.FixReport) {
	file, line, lineEnd := f.SourceFile, f.SourceLine, f.SourceLineEnd
	if report != nil && report.File != "" {
		file = report.File
		if report.Line != nil && *report.Line > 0 {
			line = int(*report.Line)
			lineEnd = nil
		}
		if report.LineEnd != nil && int(*report.LineEnd) >= line {
			end := int(*report.LineEnd)
			lineEnd = &end
		}
	}
	f.File = file
	f.Line = &line
	if lineEnd != nil {
		end := *lineEnd
		f.LineEnd = &end
	}
}

// EngineFixer drives the engine with edit and shell tools.
type EngineFixer struct {
	runner  llm.Runner
	prompts *llm.PromptManager
	store   storage.Store
	handle  storage.Handle
	logger  *slog.Logger

	Variant llm.Variant
	Branch  string
	Debug   bool
	Timeout time.Duration
	Env     map[string]string
}

// NewEngineFixer pushes to branch unless variant is llm.LocalVariant.
func NewEngineFixer(runner llm.Runner, prompts *llm.PromptManager, store storage.Store, h storage.Handle, branch string, variant llm.Variant, logger *slog.Logger) *EngineFixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineFixer{
		runner:  runner,
		prompts: prompts,
		store:   store,
		handle:  h,
		logger:  logger,
		Variant: variant,
		Branch:  branch,
		Timeout: llm.DefaultFixTimeout,
	}
}

func (e *EngineFixer) Fix(ctx context.Context, f *core.Finding) (*llm.Response, error) {
	data := llm.FixData{
		Number:      f.DisplayNumber(),
		Title:       f.Title,
		File:        f.SourceFile,
		Line:        f.SourceLine,
		Description: f.Description,
		FixPlan:     f.FixPlan,
		Branch:      e.Branch,
	}
	system, err := e.prompts.Render(llm.FixSystemPrompt, e.Variant, data)
	if err != nil {
		return nil, err
	}
	message, err := e.prompts.Render(llm.FixUserPrompt, e.Variant, data)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("fix_%03d", f.DisplayNumber())
	e.debug(label, "user_message.txt", message)

	resp, err := e.runner.Run(ctx, llm.Request{
		SystemPrompt: system,
		UserMessage:  message,
		Tools:        llm.ToolsFull,
		Schema:       llm.FixResultSchema,
		Timeout:      e.Timeout,
		Env:          e.Env,
	})
	if err != nil {
		return nil, err
	}
	if raw, jerr := json.MarshalIndent(resp.Raw, "", "  "); jerr == nil {
		e.debug(label, "response.json", string(raw))
	}
	return resp, nil
}

func (e *EngineFixer) debug(label, kind, content string) {
	if !e.Debug || content == "" {
		return
	}
	if err := e.store.WriteDebug(e.handle, label, kind, content); err != nil {
		e.logger.Warn("failed to write debug artifact", "label", label, "kind", kind, "error", err)
	}
}
