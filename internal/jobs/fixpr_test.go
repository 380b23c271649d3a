package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/mocks"
)

const fixPRDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -10,3 +10,5 @@ func main() {
 	a := 1
+	if a == 0 {
+		return
+	}
 	b := 2
diff --git a/util.go b/util.go
index 3333333..4444444 100644
--- a/util.go
+++ b/util.go
@@ -1,2 +1,2 @@
-package util
+package utils

`

// fakeWorkspace records every working tree operation in order.
type fakeWorkspace struct {
	branch  string
	dirty   bool
	pushErr error
	ops     []string
}

func (w *fakeWorkspace) CurrentBranch() (string, error) { return w.branch, nil }

func (w *fakeWorkspace) HasUncommittedChanges(context.Context) (bool, error) { return w.dirty, nil }

func (w *fakeWorkspace) StashPush(_ context.Context, message string) error {
	w.ops = append(w.ops, "stash push: "+message)
	return nil
}

func (w *fakeWorkspace) StashPop(context.Context) error {
	w.ops = append(w.ops, "stash pop")
	return nil
}

func (w *fakeWorkspace) Checkout(_ context.Context, ref string) error {
	w.ops = append(w.ops, "checkout "+ref)
	return nil
}

func (w *fakeWorkspace) Commit(_ context.Context, message string, allowEmpty bool) error {
	if allowEmpty {
		w.ops = append(w.ops, "commit --allow-empty")
	} else {
		w.ops = append(w.ops, "commit")
	}
	return nil
}

func (w *fakeWorkspace) Push(_ context.Context, branch string, setUpstream bool) error {
	w.ops = append(w.ops, "push "+branch)
	return w.pushErr
}

func originalPR(merged bool) *github.PullRequest {
	return &github.PullRequest{
		Number:     7,
		Title:      "Add feature",
		HeadBranch: "feature",
		BaseBranch: "main",
		Author:     "octocat",
		Merged:     merged,
		URL:        "https://github.com/o/r/pull/7",
	}
}

func numbered(n int, f *core.Finding) *core.Finding {
	f.Number = &n
	return f
}

func newTestPublisher(client github.Client, ws Workspace, merged bool) *Publisher {
	p := NewPublisher(client, ws, nil, "o", "r", originalPR(merged), "[Auto-fix] #($Number) \"($Title)\"", discardLogger())
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	p.retryDelay = time.Millisecond
	return p
}

func TestCreateDraft(t *testing.T) {
	tests := []struct {
		name     string
		merged   bool
		dirty    bool
		wantBase string
		wantOps  []string
	}{
		{
			name:     "open original",
			wantBase: "feature",
			wantOps:  []string{"commit --allow-empty", "push fix/pr-7", "checkout fix/pr-7"},
		},
		{
			name:     "merged original with local changes",
			merged:   true,
			dirty:    true,
			wantBase: "main",
			wantOps: []string{
				"stash push: " + stashMessage,
				"commit --allow-empty", "push fix/pr-7", "checkout fix/pr-7", "stash pop",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			ws := &fakeWorkspace{branch: "fix/pr-7", dirty: tt.dirty}

			client.EXPECT().CreatePullRequest(gomock.Any(), "o", "r", gomock.Any()).
				DoAndReturn(func(_ context.Context, _, _ string, np github.NewPullRequest) (*github.PullRequest, error) {
					assert.Equal(t, `[Auto-fix] #7 "Add feature"`, np.Title)
					assert.Equal(t, "fix/pr-7", np.Head)
					assert.Equal(t, tt.wantBase, np.Base)
					assert.True(t, np.Draft)
					assert.Contains(t, np.Body, "⏳ Pending")
					return &github.PullRequest{Number: 8, URL: "https://github.com/o/r/pull/8"}, nil
				})

			p := newTestPublisher(client, ws, tt.merged)
			fixPR, err := p.CreateDraft(context.Background(), []*core.Finding{numbered(1, finding("001", "runtime_error", 10))})
			require.NoError(t, err)

			assert.Equal(t, &core.FixPR{Number: 8, URL: "https://github.com/o/r/pull/8", Branch: "fix/pr-7", TargetBranch: tt.wantBase}, fixPR)
			assert.Equal(t, fixPR, p.fixPR)
			assert.Equal(t, tt.wantOps, ws.ops)
		})
	}
}

func TestCreateDraftPushFailureRestores(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ws := &fakeWorkspace{branch: "fix/pr-7", dirty: true, pushErr: errors.New("rejected")}

	p := newTestPublisher(client, ws, false)
	_, err := p.CreateDraft(context.Background(), []*core.Finding{numbered(1, finding("001", "runtime_error", 10))})
	require.Error(t, err)

	assert.Nil(t, p.fixPR)
	assert.Equal(t, []string{"checkout fix/pr-7", "stash pop"}, ws.ops[len(ws.ops)-2:])
}

func TestCreateAfterFixes(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ws := &fakeWorkspace{branch: "feature-local"}

	applied := numbered(1, finding("001", "runtime_error", 11))
	applied.CommitHash = hashA
	pending := numbered(2, finding("002", "runtime_error", 12))

	gomock.InOrder(
		client.EXPECT().CreatePullRequest(gomock.Any(), "o", "r", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, np github.NewPullRequest) (*github.PullRequest, error) {
				assert.False(t, np.Draft)
				assert.NotContains(t, np.Body, "(2)")
				return &github.PullRequest{Number: 9, URL: "https://github.com/o/r/pull/9"}, nil
			}),
		client.EXPECT().GetPullRequestDiff(gomock.Any(), "o", "r", 9).Return(fixPRDiff, nil),
		client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 9, gomock.Any()).Return("https://c/1", nil),
		client.EXPECT().UpdatePullRequestBody(gomock.Any(), "o", "r", 9, gomock.Any()).Return(nil),
	)

	recorded := map[string]string{}
	record := func(f *core.Finding, url string) error {
		recorded[f.ID] = url
		f.CommentURL = url
		return nil
	}

	p := newTestPublisher(client, ws, false)
	fixPR, err := p.CreateAfterFixes(context.Background(), []*core.Finding{applied, pending}, record)
	require.NoError(t, err)
	assert.Equal(t, 9, fixPR.Number)
	assert.Equal(t, map[string]string{"001": "https://c/1"}, recorded)
	assert.Equal(t, "https://c/1", applied.CommentURL)
	assert.Empty(t, pending.CommentURL)
	assert.Equal(t, []string{"push feature-local", "checkout feature-local"}, ws.ops)

	_, err = newTestPublisher(client, ws, false).CreateAfterFixes(context.Background(), []*core.Finding{pending}, record)
	assert.Error(t, err)
}

func TestCreateAfterFixesRecordFailure(t *testing.T) {
	client := mocks.NewMockClient(gomock.NewController(t))
	ws := &fakeWorkspace{branch: "feature-local"}
	applied := numbered(1, finding("001", "runtime_error", 11))
	applied.CommitHash = hashA

	client.EXPECT().CreatePullRequest(gomock.Any(), "o", "r", gomock.Any()).
		Return(&github.PullRequest{Number: 9, URL: "https://github.com/o/r/pull/9"}, nil)
	client.EXPECT().GetPullRequestDiff(gomock.Any(), "o", "r", 9).Return(fixPRDiff, nil)
	client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 9, gomock.Any()).Return("https://c/1", nil)
	client.EXPECT().UpdatePullRequestBody(gomock.Any(), "o", "r", 9, gomock.Any()).Return(nil)

	fixPR, err := newTestPublisher(client, ws, false).CreateAfterFixes(context.Background(), []*core.Finding{applied},
		func(*core.Finding, string) error { return errors.New("disk full") })
	require.NoError(t, err)
	assert.Equal(t, 9, fixPR.Number)
	assert.Empty(t, applied.CommentURL)
}

func TestPostExplanation(t *testing.T) {
	t.Run("exact range with retry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)

		f := numbered(3, finding("003", "runtime_error", 11))
		end := 13
		f.SourceLineEnd = &end
		f.CommitHash = hashB

		client.EXPECT().GetPullRequestDiff(gomock.Any(), "o", "r", 8).Return(fixPRDiff, nil)
		gomock.InOrder(
			client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 8, gomock.Any()).Return("", errors.New("commit not found")),
			client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 8, gomock.Any()).Return("", errors.New("commit not found")),
			client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 8, gomock.Any()).
				DoAndReturn(func(_ context.Context, _, _ string, _ int, c github.ReviewComment) (string, error) {
					assert.Equal(t, "main.go", c.Path)
					assert.Equal(t, 13, c.Line)
					assert.Equal(t, 11, c.StartLine)
					assert.Equal(t, hashB, c.CommitID)
					assert.Contains(t, c.Body, "## (3) 【runtime_error】finding 003")
					return "https://c/3", nil
				}),
		)

		p := newTestPublisher(client, &fakeWorkspace{}, false)
		p.Attach(&core.FixPR{Number: 8})
		url, err := p.PostExplanation(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, "https://c/3", url)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		f := numbered(1, finding("001", "runtime_error", 11))
		f.CommitHash = hashA

		client.EXPECT().GetPullRequestDiff(gomock.Any(), "o", "r", 8).Return(fixPRDiff, nil)
		client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 8, gomock.Any()).Return("", errors.New("boom")).Times(commentMaxAttempts)

		p := newTestPublisher(client, &fakeWorkspace{}, false)
		p.Attach(&core.FixPR{Number: 8})
		_, err := p.PostExplanation(context.Background(), f)
		assert.ErrorContains(t, err, "after 3 attempts")
	})

	t.Run("failed fix falls back to head commit and largest hunk", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		f := numbered(2, &core.Finding{ID: "002", Reviewer: "security", Title: "no location"})

		client.EXPECT().GetPullRequestDiff(gomock.Any(), "o", "r", 8).Return(fixPRDiff, nil)
		client.EXPECT().GetPullRequest(gomock.Any(), "o", "r", 8).Return(&github.PullRequest{Number: 8, HeadSHA: hashC}, nil)
		client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 8, gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, _ int, c github.ReviewComment) (string, error) {
				assert.Equal(t, hashC, c.CommitID)
				assert.Equal(t, "main.go", c.Path)
				assert.Equal(t, 14, c.Line)
				assert.Equal(t, 10, c.StartLine)
				return "https://c/2", nil
			})

		p := newTestPublisher(client, &fakeWorkspace{}, false)
		p.Attach(&core.FixPR{Number: 8})
		_, err := p.PostExplanation(context.Background(), f)
		require.NoError(t, err)
	})

	t.Run("canceled while waiting to retry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		f := numbered(1, finding("001", "runtime_error", 11))
		f.CommitHash = hashA

		ctx, cancel := context.WithCancel(context.Background())
		client.EXPECT().GetPullRequestDiff(gomock.Any(), "o", "r", 8).Return(fixPRDiff, nil)
		client.EXPECT().CreateReviewComment(gomock.Any(), "o", "r", 8, gomock.Any()).
			DoAndReturn(func(context.Context, string, string, int, github.ReviewComment) (string, error) {
				cancel()
				return "", errors.New("boom")
			})

		p := newTestPublisher(client, &fakeWorkspace{}, false)
		p.retryDelay = time.Hour
		p.Attach(&core.FixPR{Number: 8})
		_, err := p.PostExplanation(ctx, f)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("requires a fix PR", func(t *testing.T) {
		p := newTestPublisher(nil, &fakeWorkspace{}, false)
		_, err := p.PostExplanation(context.Background(), &core.Finding{})
		assert.Error(t, err)
	})
}

func TestEngineEnv(t *testing.T) {
	env := EngineEnv("fix/pr-7", "feature", "o", "r", 7, nil)
	assert.Equal(t, "", env["FIX_PR_NUMBER"])
	assert.Equal(t, "7", env["ORIGINAL_PR_NUMBER"])

	env = EngineEnv("fix/pr-7", "feature", "o", "r", 7, &core.FixPR{Number: 8})
	assert.Equal(t, map[string]string{
		"FIX_BRANCH":         "fix/pr-7",
		"TARGET_BRANCH":      "feature",
		"REPO_OWNER":         "o",
		"REPO_NAME":          "r",
		"ORIGINAL_PR_NUMBER": "7",
		"FIX_PR_NUMBER":      "8",
	}, env)
}
