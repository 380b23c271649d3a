// Package github talks to the code-hosting platform: pull requests, diffs,
// review comments and the progress comment on the original pull request.
// It also owns the diff line mapping used to place review comments.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/pr-warden/internal/core"
)

// PullRequest is the subset of pull request data the review needs.
type PullRequest struct {
	Number     int
	NodeID     string
	Title      string
	Body       string
	HeadSHA    string
	BaseBranch string
	HeadBranch string
	Author     string
	State      string
	Merged     bool
	Draft      bool
	URL        string
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// ReviewComment is a single or multi line comment anchored to a commit.
// StartLine is zero for single line comments.
type ReviewComment struct {
	Body      string
	CommitID  string
	Path      string
	Line      int
	StartLine int
}

// Client defines the platform operations used by a review run.
//
//go:generate mockgen -destination=../../mocks/mock_github_client.go -package=mocks . Client
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]core.ChangedFile, error)
	CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error)
	UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error
	MarkReadyForReview(ctx context.Context, owner, repo string, number int) error
	CreateReviewComment(ctx context.Context, owner, repo string, number int, c ReviewComment) (string, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)
	UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) error
}

type gitHubClient struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHubClient wraps a go-github client.
func NewGitHubClient(client *github.Client, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &gitHubClient{client: client, logger: logger}
}

// HTTPTimeout bounds a single request to the GitHub API.
const HTTPTimeout = 60 * time.Second

// NewPATClient creates a client authenticated with a personal access token.
func NewPATClient(ctx context.Context, token string, logger *slog.Logger) Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = HTTPTimeout
	return NewGitHubClient(github.NewClient(tc), logger)
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number:     pr.GetNumber(),
		NodeID:     pr.GetNodeID(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		HeadSHA:    pr.GetHead().GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
		HeadBranch: pr.GetHead().GetRef(),
		Author:     pr.GetUser().GetLogin(),
		State:      pr.GetState(),
		Merged:     pr.GetMerged(),
		Draft:      pr.GetDraft(),
		URL:        pr.GetHTMLURL(),
	}
}

func (g *gitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		g.logger.Error("failed to get pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
		return nil, err
	}
	return toPullRequest(pr), nil
}

func (g *gitHubClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := g.client.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{
		Type: github.Diff,
	})
	if err != nil {
		g.logger.Error("failed to get pull request diff", "owner", owner, "repo", repo, "pr", number, "error", err)
		return "", err
	}
	return diff, nil
}

// GetChangedFiles pages through the pull request file list.
func (g *gitHubClient) GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]core.ChangedFile, error) {
	var allFiles []core.ChangedFile
	opts := &github.ListOptions{PerPage: 100}

	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			g.logger.Error("failed to list files for pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
			return nil, err
		}

		for _, file := range files {
			allFiles = append(allFiles, core.ChangedFile{
				Path:      file.GetFilename(),
				Status:    mapFileStatus(file.GetStatus()),
				Additions: file.GetAdditions(),
				Deletions: file.GetDeletions(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allFiles, nil
}

func mapFileStatus(status string) string {
	switch status {
	case "added", "modified", "renamed", "copied":
		return status
	case "removed":
		return "deleted"
	default:
		return "modified"
	}
}

func (g *gitHubClient) CreatePullRequest(ctx context.Context, owner, repo string, np NewPullRequest) (*PullRequest, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(np.Title),
		Body:  github.Ptr(np.Body),
		Head:  github.Ptr(np.Head),
		Base:  github.Ptr(np.Base),
		Draft: github.Ptr(np.Draft),
	})
	if err != nil {
		g.logger.Error("failed to create pull request", "owner", owner, "repo", repo, "head", np.Head, "base", np.Base, "error", err)
		return nil, err
	}
	return toPullRequest(pr), nil
}

func (g *gitHubClient) UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := g.client.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{Body: github.Ptr(body)})
	if err != nil {
		g.logger.Error("failed to update pull request body", "owner", owner, "repo", repo, "pr", number, "error", err)
	}
	return err
}

const markReadyMutation = `mutation($id: ID!) { markPullRequestReadyForReview(input: {pullRequestId: $id}) { pullRequest { isDraft } } }`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// MarkReadyForReview converts a draft pull request. REST has no endpoint
// for this, so it goes through the GraphQL API with the same credentials.
func (g *gitHubClient) MarkReadyForReview(ctx context.Context, owner, repo string, number int) error {
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		g.logger.Error("failed to get pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
		return err
	}
	if !pr.GetDraft() {
		return nil
	}

	req, err := g.client.NewRequest("POST", "graphql", &graphQLRequest{
		Query:     markReadyMutation,
		Variables: map[string]any{"id": pr.GetNodeID()},
	})
	if err != nil {
		return err
	}
	var out graphQLResponse
	if _, err := g.client.Do(ctx, req, &out); err != nil {
		g.logger.Error("failed to mark pull request ready", "owner", owner, "repo", repo, "pr", number, "error", err)
		return err
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("mark ready for review: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// CreateReviewComment posts on the RIGHT side and returns the comment URL.
func (g *gitHubClient) CreateReviewComment(ctx context.Context, owner, repo string, number int, c ReviewComment) (string, error) {
	comment := &github.PullRequestComment{
		Body:     github.Ptr(c.Body),
		CommitID: github.Ptr(c.CommitID),
		Path:     github.Ptr(c.Path),
		Line:     github.Ptr(c.Line),
		Side:     github.Ptr("RIGHT"),
	}
	if c.StartLine > 0 && c.StartLine != c.Line {
		comment.StartLine = github.Ptr(c.StartLine)
		comment.StartSide = github.Ptr("RIGHT")
	}

	created, _, err := g.client.PullRequests.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		g.logger.Error("failed to create review comment", "owner", owner, "repo", repo, "pr", number, "path", c.Path, "line", c.Line, "error", err)
		return "", err
	}
	return created.GetHTMLURL(), nil
}

func (g *gitHubClient) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	comment, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		g.logger.Error("failed to create comment", "owner", owner, "repo", repo, "pr", number, "error", err)
		return 0, err
	}
	return comment.GetID(), nil
}

func (g *gitHubClient) UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	_, _, err := g.client.Issues.EditComment(ctx, owner, repo, commentID, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		g.logger.Error("failed to update comment", "owner", owner, "repo", repo, "comment_id", commentID, "error", err)
	}
	return err
}
