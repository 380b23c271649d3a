// Package jobs runs reviews: the phase controller, the analysis and fix
// coordinators, fix PR publishing and the background dispatcher.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/report"
	"github.com/sevigo/pr-warden/internal/reviewer"
	"github.com/sevigo/pr-warden/internal/storage"
)

// WorkTree is the local checkout a review runs in.
type WorkTree interface {
	Workspace
	CommitLookup
	Fetch(ctx context.Context, refSpecs ...string) error
	CreateBranchFrom(ctx context.Context, branch, startPoint string) error
	DeleteBranch(ctx context.Context, branch string, force bool) error
	DiffAgainst(ctx context.Context, base string) (string, error)
	ChangedFilesAgainst(ctx context.Context, base string) ([]core.ChangedFile, error)
}

// ClientFactory builds a platform client for a GitHub App installation.
type ClientFactory func(ctx context.Context, installationID int64) (github.Client, error)

// ReviewOptions configures a pull request review.
type ReviewOptions struct {
	Number int
	// NoPR stops after analysis: no fix branch is pushed and nothing is posted.
	NoPR bool
	Full bool
}

// LocalOptions configures a review of the current branch.
type LocalOptions struct {
	Base  string
	NoFix bool
	Full  bool
}

// RunResult is what a finished run leaves behind. Metadata is nil when there
// was nothing to review.
type RunResult struct {
	Handle   storage.Handle
	Metadata *core.Metadata
	FixPR    *core.FixPR
	Summary  *FixSummary
}

// ReviewJob drives complete reviews against the local working tree.
type ReviewJob struct {
	cfg     *config.Config
	catalog *reviewer.Catalog
	runner  llm.Runner
	prompts *llm.PromptManager
	store   storage.Store
	repo    WorkTree
	clients ClientFactory
	logger  *slog.Logger

	now        func() time.Time
	verifyExec CommandFunc
}

// NewReviewJob wires a job. clients may be nil when the job never serves
// webhook requests.
func NewReviewJob(cfg *config.Config, catalog *reviewer.Catalog, runner llm.Runner, prompts *llm.PromptManager,
	store storage.Store, repo WorkTree, clients ClientFactory, logger *slog.Logger) *ReviewJob {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &ReviewJob{
		cfg:     cfg,
		catalog: catalog,
		runner:  runner,
		prompts: prompts,
		store:   store,
		repo:    repo,
		clients: clients,
		logger:  logger,
		now:     time.Now,
	}
}

// Run reviews the pull request named by a webhook request.
func (j *ReviewJob) Run(ctx context.Context, req *core.ReviewRequest) error {
	if err := validateRequest(req); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	if j.clients == nil {
		return errors.New("no GitHub client factory configured")
	}
	client, err := j.clients(ctx, req.InstallationID)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}
	res, err := j.ReviewPR(ctx, client, req.RepoOwner, req.RepoName, ReviewOptions{Number: req.PRNumber})
	if err != nil {
		return err
	}
	j.logger.Info("review job completed", "repo", req.RepoFullName, "pr", req.PRNumber, "findings", len(res.Metadata.Findings))
	return nil
}

func validateRequest(req *core.ReviewRequest) error {
	switch {
	case req == nil:
		return errors.New("request cannot be nil")
	case req.RepoOwner == "" || req.RepoName == "":
		return errors.New("repository owner and name are required")
	case req.PRNumber <= 0:
		return fmt.Errorf("pull request number must be positive, got: %d", req.PRNumber)
	case req.InstallationID <= 0:
		return fmt.Errorf("installation ID must be positive, got: %d", req.InstallationID)
	}
	return nil
}

// ReviewPR runs every phase for a pull request: analysis on a fresh fix
// branch, a draft fix PR, one commit per finding and an explanation comment
// per fix. The original branch is checked out again when the run ends.
func (j *ReviewJob) ReviewPR(ctx context.Context, client github.Client, owner, repo string, opts ReviewOptions) (*RunResult, error) {
	reviewers, err := j.catalog.Select(j.cfg.Review.EnabledReviewers, j.cfg.Review.ReportOnlyReviewers)
	if err != nil {
		return nil, err
	}

	pr, err := client.GetPullRequest(ctx, owner, repo, opts.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR details: %w", err)
	}
	if pr.HeadSHA == "" {
		return nil, fmt.Errorf("PR %d has no valid head SHA", opts.Number)
	}
	files, err := client.GetChangedFiles(ctx, owner, repo, opts.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed files: %w", err)
	}
	diff, err := client.GetPullRequestDiff(ctx, owner, repo, opts.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR diff: %w", err)
	}
	j.logger.Info("starting review", "repo", owner+"/"+repo, "pr", pr.Number, "files", len(files), "reviewers", len(reviewers))

	fixBranch := github.ExpandTemplate(j.cfg.FixPR.BranchTemplate, github.TemplateVars{
		Branch:    pr.HeadBranch,
		Timestamp: j.now().Format(timestampLayout),
		Number:    pr.Number,
		Title:     pr.Title,
	})
	originalBranch, err := j.repo.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current branch: %w", err)
	}
	if err := j.repo.Fetch(ctx, fmt.Sprintf("pull/%d/head", pr.Number)); err != nil {
		j.logger.Warn("failed to fetch PR head, using local objects", "pr", pr.Number, "error", err)
	}
	if err := j.repo.CreateBranchFrom(ctx, fixBranch, pr.HeadSHA); err != nil {
		return nil, fmt.Errorf("failed to create fix branch: %w", err)
	}
	defer func() {
		if err := j.repo.Checkout(context.WithoutCancel(ctx), originalBranch); err != nil {
			j.logger.Warn("failed to restore original branch", "branch", originalBranch, "error", err)
		}
	}()

	ctrl := NewController(j.store, j.logger)
	info := core.PRInfo{
		Repository: owner + "/" + repo,
		Number:     pr.Number,
		BaseBranch: pr.BaseBranch,
		HeadBranch: pr.HeadBranch,
		URL:        pr.URL,
	}
	if err := ctrl.StartReview(info, reviewer.IDs(reviewers), files, diff); err != nil {
		j.dropFixBranch(ctx, originalBranch, fixBranch)
		return nil, err
	}

	var progress *github.ProgressCommenter
	if !opts.NoPR {
		progress = github.NewProgressCommenter(client, owner, repo, pr.Number, pr.Author, 0, j.logger)
		if id, err := progress.Start(ctx); err != nil {
			j.logger.Warn("failed to post progress comment", "pr", pr.Number, "error", err)
		} else if err := ctrl.Update(func(m *core.Metadata) { m.ProgressCommentID = id }); err != nil {
			j.dropFixBranch(ctx, originalBranch, fixBranch)
			return nil, err
		}
	}

	if err := ctrl.RunAnalysisPhase(ctx, reviewers, j.analyzer(ctrl, opts.Full)); err != nil {
		j.dropFixBranch(ctx, originalBranch, fixBranch)
		_ = ctrl.Finish(core.StatusFailed)
		return nil, err
	}
	res := &RunResult{Handle: ctrl.Handle()}

	findings := ctrl.Metadata().Findings
	if opts.NoPR || len(findings) == 0 {
		if len(findings) == 0 {
			j.logger.Info("no findings, no fix PR will be created", "pr", pr.Number)
			if progress != nil {
				if err := progress.NoFindings(ctx); err != nil {
					j.logger.Warn("failed to update progress comment", "error", err)
				}
			}
		}
		j.dropFixBranch(ctx, originalBranch, fixBranch)
		if err := j.finishWithoutFixes(ctrl); err != nil {
			return nil, err
		}
		res.Metadata = ctrl.Metadata()
		return res, nil
	}

	if err := ctrl.AssignDisplayNumbers(); err != nil {
		return nil, err
	}

	publisher := NewPublisher(client, j.repo, j.catalog, owner, repo, pr, j.cfg.FixPR.TitleTemplate, j.logger)
	if err := ctrl.BeginPhase(core.PhaseFixPRCreation); err != nil {
		return nil, err
	}
	fixPR, err := publisher.CreateDraft(ctx, ctrl.Metadata().Findings)
	if err != nil {
		_ = ctrl.EndPhase(core.PhaseFixPRCreation, core.StatusFailed)
		_ = ctrl.Finish(core.StatusFailed)
		return nil, err
	}
	if err := ctrl.Update(func(m *core.Metadata) { m.FixPR = fixPR }); err != nil {
		return nil, err
	}
	if err := ctrl.EndPhase(core.PhaseFixPRCreation, core.StatusCompleted); err != nil {
		return nil, err
	}
	res.FixPR = fixPR
	if progress != nil {
		if err := progress.FixPRCreated(ctx, fixPR.URL, len(findings)); err != nil {
			j.logger.Warn("failed to update progress comment", "error", err)
		}
	}

	env := EngineEnv(fixPR.Branch, fixPR.TargetBranch, owner, repo, pr.Number, fixPR)
	fixer := NewEngineFixer(j.runner, j.prompts, j.store, ctrl.Handle(), fixPR.Branch, llm.DefaultVariant, j.logger)
	fixer.Debug, fixer.Timeout, fixer.Env = j.cfg.Debug, j.cfg.Claude.FixTimeout, env

	summary, err := ctrl.RunFixApplicationPhase(ctx, fixer, j.repo, reviewer.ReportOnlyIDs(reviewers),
		j.publishOutcome(ctrl, publisher))
	if err != nil {
		return nil, err
	}
	res.Summary = summary

	if _, err := ctrl.RunVerification(ctx, j.verifier(fixPR.Branch, env)); err != nil {
		return nil, err
	}

	if err := j.postMissingComments(ctx, ctrl, publisher); err != nil {
		return nil, err
	}

	if len(summary.Applied) > 0 {
		if err := publisher.MarkReady(ctx); err != nil {
			j.logger.Warn("failed to mark fix PR ready", "pr", fixPR.Number, "error", err)
		}
	}
	if progress != nil {
		if err := progress.Completed(ctx, fixPR.URL, len(summary.Applied), len(summary.Failed), len(summary.Skipped)); err != nil {
			j.logger.Warn("failed to update progress comment", "error", err)
		}
	}
	if err := ctrl.Finish(core.StatusCompleted); err != nil {
		return nil, err
	}
	res.Metadata = ctrl.Metadata()
	return res, nil
}

// publishOutcome posts the explanation comment for an applied or failed
// finding and refreshes the fix PR status table.
func (j *ReviewJob) publishOutcome(ctrl *Controller, publisher *Publisher) FixCallback {
	return func(ctx context.Context, out FixOutcome) {
		f := out.Finding
		if out.Status == FixApplied || out.Status == FixFailed {
			url, err := publisher.PostExplanation(ctx, f)
			if err != nil {
				j.logger.Warn("failed to post explanation comment", "finding", f.DisplayNumber(), "error", err)
			} else if err := ctrl.Update(func(*core.Metadata) { f.CommentURL = url }); err != nil {
				j.logger.Error("failed to persist comment URL", "finding", f.DisplayNumber(), "error", err)
			}
		}
		if err := publisher.UpdateBody(ctx, ctrl.Metadata().Findings); err != nil {
			j.logger.Warn("failed to update fix PR body", "error", err)
		}
	}
}

// postMissingComments is the comment posting phase: any applied finding whose
// explanation could not be posted during the fix pass gets another try.
func (j *ReviewJob) postMissingComments(ctx context.Context, ctrl *Controller, publisher *Publisher) error {
	if err := ctrl.BeginPhase(core.PhaseCommentPosting); err != nil {
		return err
	}
	if err := j.repostComments(ctx, ctrl, publisher); err != nil {
		return err
	}
	return ctrl.EndPhase(core.PhaseCommentPosting, core.StatusCompleted)
}

func (j *ReviewJob) repostComments(ctx context.Context, ctrl *Controller, publisher *Publisher) error {
	var posted int
	for _, f := range ctrl.Metadata().AppliedFindings() {
		if f.CommentURL != "" {
			continue
		}
		url, err := publisher.PostExplanation(ctx, f)
		if err != nil {
			j.logger.Warn("explanation comment still failing", "finding", f.DisplayNumber(), "error", err)
			continue
		}
		if err := ctrl.Update(func(*core.Metadata) { f.CommentURL = url }); err != nil {
			return err
		}
		posted++
	}
	if posted > 0 {
		if err := publisher.UpdateBody(ctx, ctrl.Metadata().Findings); err != nil {
			j.logger.Warn("failed to update fix PR body", "error", err)
		}
	}
	return nil
}

// ReviewLocal reviews the current branch against opts.Base. Fixes are
// committed locally and never pushed; report.md is written at the end.
func (j *ReviewJob) ReviewLocal(ctx context.Context, opts LocalOptions) (*RunResult, error) {
	reviewers, err := j.catalog.Select(j.cfg.Review.EnabledReviewers, j.cfg.Review.ReportOnlyReviewers)
	if err != nil {
		return nil, err
	}
	branch, err := j.repo.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current branch: %w", err)
	}
	files, err := j.repo.ChangedFilesAgainst(ctx, opts.Base)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed files: %w", err)
	}
	if len(files) == 0 {
		j.logger.Info("no changes against base", "branch", branch, "base", opts.Base)
		return &RunResult{}, nil
	}
	diff, err := j.repo.DiffAgainst(ctx, opts.Base)
	if err != nil {
		return nil, fmt.Errorf("failed to diff against %s: %w", opts.Base, err)
	}

	ctrl := NewController(j.store, j.logger)
	info := core.PRInfo{
		Repository: "local/" + branch,
		Number:     0,
		BaseBranch: opts.Base,
		HeadBranch: branch,
		URL:        "local://" + branch,
	}
	if err := ctrl.StartReview(info, reviewer.IDs(reviewers), files, diff); err != nil {
		return nil, err
	}
	if err := ctrl.RunAnalysisPhase(ctx, reviewers, j.analyzer(ctrl, opts.Full)); err != nil {
		_ = ctrl.Finish(core.StatusFailed)
		return nil, err
	}
	if err := ctrl.AssignDisplayNumbers(); err != nil {
		return nil, err
	}
	if err := ctrl.EndPhase(core.PhaseFixPRCreation, core.StatusSkipped); err != nil {
		return nil, err
	}

	res := &RunResult{Handle: ctrl.Handle()}
	if opts.NoFix || len(ctrl.Metadata().Findings) == 0 {
		if err := ctrl.EndPhase(core.PhaseFixApplication, core.StatusSkipped); err != nil {
			return nil, err
		}
	} else {
		fixer := NewEngineFixer(j.runner, j.prompts, j.store, ctrl.Handle(), "", llm.LocalVariant, j.logger)
		fixer.Debug, fixer.Timeout = j.cfg.Debug, j.cfg.Claude.FixTimeout
		summary, err := ctrl.RunFixApplicationPhase(ctx, fixer, j.repo, reviewer.ReportOnlyIDs(reviewers), nil)
		if err != nil {
			return nil, err
		}
		res.Summary = summary
		if _, err := ctrl.RunVerification(ctx, j.verifier("", nil)); err != nil {
			return nil, err
		}
	}
	if err := ctrl.EndPhase(core.PhaseCommentPosting, core.StatusSkipped); err != nil {
		return nil, err
	}

	if err := j.store.WriteReport(ctrl.Handle(), report.Generate(ctrl.Metadata(), j.catalog)); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	if err := ctrl.Finish(core.StatusCompleted); err != nil {
		return nil, err
	}
	res.Metadata = ctrl.Metadata()
	return res, nil
}

// PublishFixes opens a fix PR for a finished review whose fixes were
// committed on the current branch, e.g. by a local run. A review that already
// has a fix PR is republished: missing explanation comments are posted and
// the status table is refreshed.
func (j *ReviewJob) PublishFixes(ctx context.Context, client github.Client, owner, repo string, h storage.Handle, prNumber int) (*RunResult, error) {
	ctrl := NewController(j.store, j.logger)
	if err := ctrl.Resume(h); err != nil {
		return nil, err
	}
	if len(ctrl.Metadata().AppliedFindings()) == 0 {
		return nil, errors.New("review has no findings with commits")
	}
	pr, err := client.GetPullRequest(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR details: %w", err)
	}

	publisher := NewPublisher(client, j.repo, j.catalog, owner, repo, pr, j.cfg.FixPR.TitleTemplate, j.logger)
	if existing := ctrl.Metadata().FixPR; existing != nil {
		j.logger.Info("republishing to existing fix PR", "fix_pr", existing.Number)
		publisher.Attach(existing)
		if err := j.repostComments(ctx, ctrl, publisher); err != nil {
			return nil, err
		}
		return &RunResult{Handle: h, Metadata: ctrl.Metadata(), FixPR: existing}, nil
	}

	fixPR, err := publisher.CreateAfterFixes(ctx, ctrl.Metadata().Findings, func(f *core.Finding, url string) error {
		return ctrl.Update(func(*core.Metadata) { f.CommentURL = url })
	})
	if err != nil {
		return nil, err
	}
	if err := ctrl.Update(func(m *core.Metadata) { m.FixPR = fixPR }); err != nil {
		return nil, err
	}
	return &RunResult{Handle: h, Metadata: ctrl.Metadata(), FixPR: fixPR}, nil
}

func (j *ReviewJob) analyzer(ctrl *Controller, full bool) *EngineAnalyzer {
	a := NewEngineAnalyzer(j.runner, j.prompts, j.store, ctrl.Handle(), j.logger)
	a.FocusOnChanges = j.cfg.Review.FocusOnChanges && !full
	a.Debug = j.cfg.Debug
	a.Timeout = j.cfg.Claude.AnalysisTimeout
	return a
}

func (j *ReviewJob) verifier(branch string, env map[string]string) *Verifier {
	if j.cfg.Review.VerifyCommand == "" {
		return nil
	}
	v := NewVerifier(j.runner, j.prompts, j.cfg.Review.VerifyCommand, j.cfg.ProjectPath,
		j.cfg.Review.CompileFixMaxAttempts, j.verifyExec, j.logger)
	v.Branch, v.Env, v.Timeout = branch, env, j.cfg.Claude.FixTimeout
	if j.cfg.Review.VerifyTimeout > 0 {
		v.CommandTimeout = j.cfg.Review.VerifyTimeout
	}
	return v
}

func (j *ReviewJob) finishWithoutFixes(ctrl *Controller) error {
	for _, p := range []core.Phase{core.PhaseFixPRCreation, core.PhaseFixApplication, core.PhaseCommentPosting} {
		if err := ctrl.EndPhase(p, core.StatusSkipped); err != nil {
			return err
		}
	}
	return ctrl.Finish(core.StatusCompleted)
}

// dropFixBranch leaves the fix branch and force deletes it.
func (j *ReviewJob) dropFixBranch(ctx context.Context, original, fixBranch string) {
	ctx = context.WithoutCancel(ctx)
	if err := j.repo.Checkout(ctx, original); err != nil {
		j.logger.Warn("failed to check out original branch", "branch", original, "error", err)
		return
	}
	if err := j.repo.DeleteBranch(ctx, fixBranch, true); err != nil {
		j.logger.Warn("failed to delete fix branch", "branch", fixBranch, "error", err)
	}
}
