// Package handler provides the HTTP handlers of the webhook server.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/jobs"
)

// WebhookHandler turns "/review" issue comments into queued review jobs.
type WebhookHandler struct {
	secret     []byte
	repo       string
	dispatcher core.JobDispatcher
	logger     *slog.Logger
}

// NewWebhookHandler validates payloads with secret. When repo ("owner/name")
// is set, comments from any other repository are ignored since reviews run
// in a single local checkout.
func NewWebhookHandler(secret, repo string, dispatcher core.JobDispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:     []byte(secret),
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Handle processes GitHub webhook requests.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.logger.Error("invalid webhook payload signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.logger.Error("could not parse webhook", "error", err)
		http.Error(w, "Could not parse webhook", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.IssueCommentEvent:
		h.handleIssueComment(r.Context(), w, e)
	case *github.PingEvent:
		_, _ = fmt.Fprint(w, "pong")
	default:
		h.logger.Debug("ignoring unhandled webhook event type", "type", github.WebHookType(r))
		_, _ = fmt.Fprint(w, "Event type not handled")
	}
}

func (h *WebhookHandler) handleIssueComment(ctx context.Context, w http.ResponseWriter, event *github.IssueCommentEvent) {
	if event.GetAction() != "created" {
		_, _ = fmt.Fprint(w, "Comment ignored")
		return
	}
	req, err := core.EventFromIssueComment(event)
	if err != nil {
		h.logger.Debug("ignoring issue comment", "reason", err.Error(), "repo", event.GetRepo().GetFullName())
		_, _ = fmt.Fprint(w, "Comment ignored")
		return
	}
	if h.repo != "" && !strings.EqualFold(req.RepoFullName, h.repo) {
		h.logger.Warn("ignoring review request for unconfigured repository", "repo", req.RepoFullName, "configured", h.repo)
		_, _ = fmt.Fprint(w, "Repository not configured")
		return
	}

	if err := h.dispatcher.Dispatch(ctx, req); err != nil {
		h.logger.Error("failed to dispatch review job", "error", err, "repo", req.RepoFullName)
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Failed to start review job", status)
		return
	}

	h.logger.Info("review job dispatched", "repo", req.RepoFullName, "pr", req.PRNumber, "commenter", req.Commenter)
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprint(w, "Review job accepted")
}
