// Package core holds the review domain model shared by every other package:
// the persisted metadata aggregate, findings, and the request types passed
// between the webhook layer and the job runner.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
)

// ReviewCommand is the issue comment body that triggers a review.
const ReviewCommand = "/review"

var (
	ErrNotPullRequest   = errors.New("comment is not on a pull request")
	ErrNotReviewCommand = errors.New("comment is not a review command")
)

// ReviewRequest is the internal view of a webhook asking for a review.
type ReviewRequest struct {
	RepoOwner    string
	RepoName     string
	RepoFullName string

	PRNumber int
	PRTitle  string

	Commenter      string
	InstallationID int64
}

// EventFromIssueComment validates a raw IssueCommentEvent and converts it.
// Only "/review" comments on pull requests are accepted.
func EventFromIssueComment(event *github.IssueCommentEvent) (*ReviewRequest, error) {
	if !event.GetIssue().IsPullRequest() {
		return nil, ErrNotPullRequest
	}

	if !strings.EqualFold(strings.TrimSpace(event.GetComment().GetBody()), ReviewCommand) {
		return nil, ErrNotReviewCommand
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetOwner() == nil || repo.GetOwner().GetLogin() == "" || repo.GetName() == "" {
		return nil, fmt.Errorf("repository or owner information is missing from the event")
	}

	prNumber := event.GetIssue().GetNumber()
	if prNumber <= 0 {
		return nil, fmt.Errorf("invalid pull request number: %d", prNumber)
	}

	if event.GetComment().GetUser() == nil || event.GetComment().GetUser().GetLogin() == "" {
		return nil, fmt.Errorf("commenter information is missing from the event")
	}

	return &ReviewRequest{
		RepoOwner:      repo.GetOwner().GetLogin(),
		RepoName:       repo.GetName(),
		RepoFullName:   repo.GetFullName(),
		InstallationID: event.GetInstallation().GetID(),
		PRNumber:       prNumber,
		PRTitle:        event.GetIssue().GetTitle(),
		Commenter:      event.GetComment().GetUser().GetLogin(),
	}, nil
}
