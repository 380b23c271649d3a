package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/gitutil"
)

const (
	stashMessage        = "PR Review: temporary stash before fix PR creation"
	commentMaxAttempts  = 3
	commentInitialDelay = time.Second
	timestampLayout     = "20060102-150405"
)

// Workspace is the local working tree the fix PR is pushed from.
type Workspace interface {
	CurrentBranch() (string, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	StashPush(ctx context.Context, message string) error
	StashPop(ctx context.Context) error
	Checkout(ctx context.Context, ref string) error
	Commit(ctx context.Context, message string, allowEmpty bool) error
	Push(ctx context.Context, branch string, setUpstream bool) error
}

// Publisher owns the fix pull request: its creation, its status table and
// the explanation comment posted next to each fix.
type Publisher struct {
	client        github.Client
	ws            Workspace
	names         github.ReviewerNames
	logger        *slog.Logger
	owner         string
	repo          string
	original      *github.PullRequest
	titleTemplate string
	repoBase      string

	fixPR      *core.FixPR
	now        func() time.Time
	retryDelay time.Duration
}

// NewPublisher prepares a publisher for fixes to the original pull request.
func NewPublisher(client github.Client, ws Workspace, names github.ReviewerNames, owner, repo string, original *github.PullRequest, titleTemplate string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:        client,
		ws:            ws,
		names:         names,
		logger:        logger,
		owner:         owner,
		repo:          repo,
		original:      original,
		titleTemplate: titleTemplate,
		repoBase:      gitutil.RepoBaseURL(original.URL),
		now:           time.Now,
		retryDelay:    commentInitialDelay,
	}
}

// Attach reuses an already published fix pull request.
func (p *Publisher) Attach(fixPR *core.FixPR) { p.fixPR = fixPR }

// TargetBranch is the original base when the original pull request is
// already merged, its head otherwise.
func (p *Publisher) TargetBranch() string {
	if p.original.Merged {
		return p.original.BaseBranch
	}
	return p.original.HeadBranch
}

// CreateDraft pushes the current branch with an empty marker commit and opens
// a draft pull request listing every finding as pending.
func (p *Publisher) CreateDraft(ctx context.Context, findings []*core.Finding) (*core.FixPR, error) {
	return p.create(ctx, findings, true)
}

// CommentRecorder stores the URL of a posted explanation comment on f.
type CommentRecorder func(f *core.Finding, url string) error

// CreateAfterFixes opens a ready pull request for fixes already committed on
// the current branch and posts their explanation comments. Each comment URL
// goes through record before the PR body is refreshed.
func (p *Publisher) CreateAfterFixes(ctx context.Context, findings []*core.Finding, record CommentRecorder) (*core.FixPR, error) {
	var applied []*core.Finding
	for _, f := range findings {
		if f.Applied() {
			applied = append(applied, f)
		}
	}
	if len(applied) == 0 {
		return nil, errors.New("no findings with commits to publish")
	}
	pr, err := p.create(ctx, applied, false)
	if err != nil {
		return nil, err
	}
	for _, f := range applied {
		url, err := p.PostExplanation(ctx, f)
		if err != nil {
			p.logger.Warn("failed to post explanation comment", "finding", f.DisplayNumber(), "error", err)
			continue
		}
		if err := record(f, url); err != nil {
			p.logger.Error("failed to persist comment URL", "finding", f.DisplayNumber(), "error", err)
		}
	}
	if err := p.UpdateBody(ctx, applied); err != nil {
		p.logger.Warn("failed to update fix PR body", "pr", pr.Number, "error", err)
	}
	return pr, nil
}

func (p *Publisher) create(ctx context.Context, findings []*core.Finding, draft bool) (fixPR *core.FixPR, err error) {
	if len(findings) == 0 {
		return nil, errors.New("no findings to include")
	}

	branch, err := p.ws.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current branch: %w", err)
	}
	dirty, err := p.ws.HasUncommittedChanges(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		p.logger.Info("stashing uncommitted changes")
		if err := p.ws.StashPush(ctx, stashMessage); err != nil {
			return nil, err
		}
	}
	defer p.restore(ctx, branch, dirty)

	if draft {
		if err := p.ws.Commit(ctx, initialCommitMessage(p.original.Number, len(findings)), true); err != nil {
			return nil, fmt.Errorf("failed to create initial commit: %w", err)
		}
	}
	if err := p.ws.Push(ctx, branch, true); err != nil {
		return nil, fmt.Errorf("failed to push branch: %w", err)
	}

	title := github.ExpandTemplate(p.titleTemplate, github.TemplateVars{
		Branch:    p.original.HeadBranch,
		Timestamp: p.now().Format(timestampLayout),
		Number:    p.original.Number,
		Title:     p.original.Title,
	})
	created, err := p.client.CreatePullRequest(ctx, p.owner, p.repo, github.NewPullRequest{
		Title: title,
		Body:  p.body(findings),
		Head:  branch,
		Base:  p.TargetBranch(),
		Draft: draft,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fix PR: %w", err)
	}

	p.fixPR = &core.FixPR{
		Number:       created.Number,
		URL:          created.URL,
		Branch:       branch,
		TargetBranch: p.TargetBranch(),
	}
	p.logger.Info("fix PR created", "pr", created.Number, "url", created.URL, "draft", draft, "base", p.TargetBranch())
	return p.fixPR, nil
}

func (p *Publisher) restore(ctx context.Context, branch string, stashed bool) {
	if err := p.ws.Checkout(ctx, branch); err != nil {
		p.logger.Warn("failed to restore branch", "branch", branch, "error", err)
	}
	if stashed {
		if err := p.ws.StashPop(ctx); err != nil {
			p.logger.Warn("failed to restore stashed changes", "error", err)
		}
	}
}

func initialCommitMessage(number, count int) string {
	return fmt.Sprintf("[PR Review] PR #%d: starting automated fixes\n\n%d %s will be applied to this PR.\nFixes are committed one at a time.\n\n🤖 Generated with pr-warden\n",
		number, count, pluralize(count, "fix", "fixes"))
}

func (p *Publisher) body(findings []*core.Finding) string {
	return github.FixPRBody(github.FixPRBodyData{
		OriginalNumber: p.original.Number,
		OriginalURL:    p.original.URL,
		OriginalMerged: p.original.Merged,
		RepoBaseURL:    p.repoBase,
		Findings:       findings,
		Names:          p.names,
	})
}

// UpdateBody regenerates the status table.
func (p *Publisher) UpdateBody(ctx context.Context, findings []*core.Finding) error {
	if p.fixPR == nil {
		return errors.New("fix PR not created")
	}
	return p.client.UpdatePullRequestBody(ctx, p.owner, p.repo, p.fixPR.Number, p.body(findings))
}

// MarkReady takes the fix PR out of draft.
func (p *Publisher) MarkReady(ctx context.Context) error {
	if p.fixPR == nil {
		return errors.New("fix PR not created")
	}
	return p.client.MarkReadyForReview(ctx, p.owner, p.repo, p.fixPR.Number)
}

// PostExplanation anchors an explanation comment for f on the fix PR diff
// and returns its URL. Findings without any location go to the largest hunk.
func (p *Publisher) PostExplanation(ctx context.Context, f *core.Finding) (string, error) {
	if p.fixPR == nil {
		return "", errors.New("fix PR not created")
	}
	diff, err := p.client.GetPullRequestDiff(ctx, p.owner, p.repo, p.fixPR.Number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch fix PR diff: %w", err)
	}

	target := Target{File: f.TargetFile(), StartLine: f.TargetLine(), EndLine: f.TargetLineEnd()}
	if target.File == "" || target.StartLine <= 0 {
		hunk, ok := github.FindLargestHunk(diff, p.logger)
		if !ok {
			return "", ErrNoPlacement
		}
		target = Target{File: hunk.File, StartLine: hunk.StartLine, EndLine: hunk.EndLine}
	}
	placement, err := ResolvePlacement(p.logger, target, github.ParseCommentableLines(diff, p.logger))
	if err != nil {
		return "", err
	}

	commit := f.CommitHash
	if commit == "" {
		pr, err := p.client.GetPullRequest(ctx, p.owner, p.repo, p.fixPR.Number)
		if err != nil {
			return "", fmt.Errorf("failed to resolve fix PR head: %w", err)
		}
		commit = pr.HeadSHA
	}

	comment := github.ReviewComment{
		Body:      github.ExplanationComment(f, p.names, p.repoBase),
		CommitID:  commit,
		Path:      placement.File,
		Line:      placement.Line,
		StartLine: placement.StartLine,
	}

	// New commits may not be indexed yet, so posting is retried.
	delay := p.retryDelay
	var lastErr error
	for attempt := 1; attempt <= commentMaxAttempts; attempt++ {
		url, err := p.client.CreateReviewComment(ctx, p.owner, p.repo, p.fixPR.Number, comment)
		if err == nil {
			p.logger.Info("explanation comment posted", "finding", f.DisplayNumber(), "path", placement.File, "line", placement.Line, "rule", placement.Rule)
			return url, nil
		}
		lastErr = err
		if attempt == commentMaxAttempts {
			break
		}
		p.logger.Warn("posting review comment failed, retrying", "finding", f.DisplayNumber(), "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("failed to post review comment after %d attempts: %w", commentMaxAttempts, lastErr)
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// EngineEnv is exposed to the engine's shell commands.
func EngineEnv(fixBranch, targetBranch, owner, repo string, originalPR int, fixPR *core.FixPR) map[string]string {
	env := map[string]string{
		"FIX_BRANCH":         fixBranch,
		"TARGET_BRANCH":      targetBranch,
		"REPO_OWNER":         owner,
		"REPO_NAME":          repo,
		"ORIGINAL_PR_NUMBER": strconv.Itoa(originalPR),
		"FIX_PR_NUMBER":      "",
	}
	if fixPR != nil {
		env["FIX_PR_NUMBER"] = strconv.Itoa(fixPR.Number)
	}
	return env
}
