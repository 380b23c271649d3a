package github

import (
	"context"
	"log/slog"
)

// ProgressCommenter keeps a single status comment on the original pull
// request up to date. Every update falls back to creating a new comment.
type ProgressCommenter struct {
	client    Client
	owner     string
	repo      string
	number    int
	author    string
	commentID int64
	logger    *slog.Logger
}

// NewProgressCommenter resumes from commentID when it is non-zero.
func NewProgressCommenter(client Client, owner, repo string, number int, author string, commentID int64, logger *slog.Logger) *ProgressCommenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressCommenter{
		client:    client,
		owner:     owner,
		repo:      repo,
		number:    number,
		author:    author,
		commentID: commentID,
		logger:    logger,
	}
}

// CommentID returns the id of the tracked comment, or 0.
func (p *ProgressCommenter) CommentID() int64 { return p.commentID }

// Start posts a fresh "analysis started" comment.
func (p *ProgressCommenter) Start(ctx context.Context) (int64, error) {
	id, err := p.client.CreateIssueComment(ctx, p.owner, p.repo, p.number, ProgressStartBody(p.author))
	if err != nil {
		return 0, err
	}
	p.commentID = id
	return id, nil
}

func (p *ProgressCommenter) NoFindings(ctx context.Context) error {
	return p.updateOrCreate(ctx, ProgressNoFindingsBody(p.author), "no findings")
}

func (p *ProgressCommenter) FixPRCreated(ctx context.Context, fixPRURL string, total int) error {
	return p.updateOrCreate(ctx, ProgressFixPRBody(p.author, fixPRURL, total), "fix pr created")
}

func (p *ProgressCommenter) Completed(ctx context.Context, fixPRURL string, applied, failed, skipped int) error {
	return p.updateOrCreate(ctx, ProgressDoneBody(p.author, fixPRURL, applied, failed, skipped), "fixes complete")
}

func (p *ProgressCommenter) updateOrCreate(ctx context.Context, body, stage string) error {
	if p.commentID != 0 {
		err := p.client.UpdateIssueComment(ctx, p.owner, p.repo, p.commentID, body)
		if err == nil {
			return nil
		}
		p.logger.Warn("failed to update progress comment, creating a new one", "stage", stage, "comment_id", p.commentID, "error", err)
	}
	id, err := p.client.CreateIssueComment(ctx, p.owner, p.repo, p.number, body)
	if err != nil {
		return err
	}
	p.commentID = id
	return nil
}
