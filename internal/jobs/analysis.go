package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/reviewer"
	"github.com/sevigo/pr-warden/internal/storage"
)

// AnalysisResult is what one reviewer reported.
type AnalysisResult struct {
	Findings []llm.RawFinding
	CostUSD  float64
	Strategy string
}

// Analyzer runs one reviewer against the change set.
type Analyzer interface {
	Analyze(ctx context.Context, rv reviewer.Reviewer) (*AnalysisResult, error)
}

// RunAnalysisPhase runs every reviewer concurrently. A failing reviewer is
// recorded as failed and does not stop its siblings; only a persistence
// error aborts the phase.
func (c *Controller) RunAnalysisPhase(ctx context.Context, reviewers []reviewer.Reviewer, analyzer Analyzer) error {
	if err := c.BeginPhase(core.PhaseDeepAnalysis); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(reviewers), 1))
	for _, rv := range reviewers {
		g.Go(func() error {
			return c.runReviewer(gctx, rv, analyzer)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("analysis phase aborted: %w", err)
	}

	if err := c.EndPhase(core.PhaseDeepAnalysis, core.StatusCompleted); err != nil {
		return err
	}

	meta := c.Metadata()
	c.logger.Info("analysis phase completed", "pr", meta.PR.Number, "findings", len(meta.Findings))
	return nil
}

func (c *Controller) runReviewer(ctx context.Context, rv reviewer.Reviewer, analyzer Analyzer) error {
	err := c.Update(func(m *core.Metadata) {
		reviewerState(m, rv.ID).Status = core.StatusInProgress
	})
	if err != nil {
		return err
	}

	start := time.Now()
	res, runErr := analyzer.Analyze(ctx, rv)
	if runErr != nil {
		c.logger.Warn("reviewer failed", "reviewer", rv.ID, "duration", time.Since(start), "error", runErr)
		return c.Update(func(m *core.Metadata) {
			st := reviewerState(m, rv.ID)
			st.Status = core.StatusFailed
			st.Error = runErr.Error()
			if res != nil {
				m.Usage.AnalysisCostUSD += res.CostUSD
			}
			m.Usage.Invocations++
		})
	}

	var added int
	err = c.Update(func(m *core.Metadata) {
		for _, raw := range res.Findings {
			f, ok := newFinding(len(m.Findings)+1, rv.ID, raw)
			if !ok {
				c.logger.Warn("dropping empty finding", "reviewer", rv.ID)
				continue
			}
			m.Findings = append(m.Findings, f)
			added++
		}
		st := reviewerState(m, rv.ID)
		st.FindingsCount += added
		st.Status = core.StatusCompleted
		m.Usage.AnalysisCostUSD += res.CostUSD
		m.Usage.Invocations++
	})
	if err != nil {
		return err
	}
	c.logger.Info("reviewer completed", "reviewer", rv.ID, "findings", added, "strategy", res.Strategy, "duration", time.Since(start))
	return nil
}

func reviewerState(m *core.Metadata, id string) *core.ReviewerState {
	if m.Reviewers == nil {
		m.Reviewers = map[string]*core.ReviewerState{}
	}
	st, ok := m.Reviewers[id]
	if !ok {
		st = &core.ReviewerState{Status: core.StatusPending}
		m.Reviewers[id] = st
	}
	return st
}

func newFinding(seq int, reviewerID string, raw llm.RawFinding) (*core.Finding, bool) {
	if raw.Title == "" && raw.Description == "" {
		return nil, false
	}
	f := &core.Finding{
		ID:          fmt.Sprintf("%03d", seq),
		Reviewer:    reviewerID,
		SourceFile:  raw.SourceFile,
		SourceLine:  int(raw.SourceLine),
		Title:       raw.Title,
		Description: raw.Description,
		Scenario:    raw.Scenario,
		FixPlan:     raw.FixPlan,
		FixSummary:  raw.FixSummary,
	}
	if raw.SourceLineEnd != nil && int(*raw.SourceLineEnd) > 0 {
		end := int(*raw.SourceLineEnd)
		f.SourceLineEnd = &end
	}
	return f, true
}

// EngineAnalyzer asks the external engine to review the change set from one
// reviewer's point of view.
type EngineAnalyzer struct {
	runner  llm.Runner
	prompts *llm.PromptManager
	store   storage.Store
	handle  storage.Handle
	logger  *slog.Logger

	FocusOnChanges bool
	Debug          bool
	Timeout        time.Duration
	Env            map[string]string
}

// NewEngineAnalyzer reads context files from the review directory h.
func NewEngineAnalyzer(runner llm.Runner, prompts *llm.PromptManager, store storage.Store, h storage.Handle, logger *slog.Logger) *EngineAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineAnalyzer{
		runner:         runner,
		prompts:        prompts,
		store:          store,
		handle:         h,
		logger:         logger,
		FocusOnChanges: true,
		Timeout:        llm.DefaultAnalysisTimeout,
	}
}

func (a *EngineAnalyzer) Analyze(ctx context.Context, rv reviewer.Reviewer) (*AnalysisResult, error) {
	system, err := a.prompts.Render(llm.ReviewerSystemPrompt, llm.DefaultVariant, llm.ReviewerSystemData{
		ReviewerID:     rv.ID,
		ReviewerTitle:  rv.Title,
		ReviewerPrompt: rv.Prompt,
	})
	if err != nil {
		return nil, err
	}
	key := llm.AnalysisDiffPrompt
	if !a.FocusOnChanges {
		key = llm.AnalysisFullPrompt
	}
	message, err := a.prompts.Render(key, llm.DefaultVariant, llm.AnalysisData{
		ReviewerID:       rv.ID,
		ReviewerTitle:    rv.Title,
		ChangedFilesPath: a.handle.ChangedFilesPath(),
		DiffPath:         a.handle.DiffPath(),
	})
	if err != nil {
		return nil, err
	}
	a.debug(rv.ID, "system_prompt.txt", system)
	a.debug(rv.ID, "user_message.txt", message)

	resp, err := a.runner.Run(ctx, llm.Request{
		SystemPrompt: system,
		UserMessage:  message,
		Tools:        llm.ToolsReadOnly,
		Schema:       llm.FindingsSchema,
		Timeout:      a.Timeout,
		Env:          a.Env,
	})
	if err != nil {
		return nil, err
	}
	if raw, jerr := json.MarshalIndent(resp.Raw, "", "  "); jerr == nil {
		a.debug(rv.ID, "response.json", string(raw))
	}
	a.debug(rv.ID, "stderr.txt", resp.Stderr)

	findings, strategy := llm.ExtractFindings(resp)
	if strategy == "" {
		return &AnalysisResult{CostUSD: resp.CostUSD}, fmt.Errorf("reviewer %s: %w", rv.ID, llm.ErrNoFindingsOutput)
	}
	return &AnalysisResult{Findings: findings, CostUSD: resp.CostUSD, Strategy: strategy}, nil
}

func (a *EngineAnalyzer) debug(reviewerID, kind, content string) {
	if !a.Debug || content == "" {
		return
	}
	if err := a.store.WriteDebug(a.handle, reviewerID, kind, content); err != nil {
		a.logger.Warn("failed to write debug artifact", "reviewer", reviewerID, "kind", kind, "error", err)
	}
}
