package github_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/mocks"
)

func TestProgressCommenter(t *testing.T) {
	ctx := context.Background()

	t.Run("start then update in place", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		p := github.NewProgressCommenter(client, "acme", "widgets", 7, "octocat", 0, nil)

		client.EXPECT().CreateIssueComment(ctx, "acme", "widgets", 7, gomock.Any()).Return(int64(55), nil)
		client.EXPECT().UpdateIssueComment(ctx, "acme", "widgets", int64(55), gomock.Any()).Return(nil)

		id, err := p.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(55), id)
		require.NoError(t, p.FixPRCreated(ctx, "https://github.com/acme/widgets/pull/8", 2))
		assert.Equal(t, int64(55), p.CommentID())
	})

	t.Run("failed update creates a new comment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		p := github.NewProgressCommenter(client, "acme", "widgets", 7, "octocat", 55, nil)

		gomock.InOrder(
			client.EXPECT().UpdateIssueComment(ctx, "acme", "widgets", int64(55), gomock.Any()).Return(errors.New("gone")),
			client.EXPECT().CreateIssueComment(ctx, "acme", "widgets", 7, gomock.Any()).Return(int64(56), nil),
		)

		require.NoError(t, p.Completed(ctx, "u", 1, 0, 0))
		assert.Equal(t, int64(56), p.CommentID())
	})

	t.Run("no tracked comment creates one", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		p := github.NewProgressCommenter(client, "acme", "widgets", 7, "octocat", 0, nil)

		client.EXPECT().CreateIssueComment(ctx, "acme", "widgets", 7, github.ProgressNoFindingsBody("octocat")).Return(int64(9), nil)
		require.NoError(t, p.NoFindings(ctx))
		assert.Equal(t, int64(9), p.CommentID())
	})

	t.Run("create failure surfaces", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)
		p := github.NewProgressCommenter(client, "acme", "widgets", 7, "octocat", 0, nil)

		client.EXPECT().CreateIssueComment(ctx, "acme", "widgets", 7, gomock.Any()).Return(int64(0), errors.New("forbidden"))
		_, err := p.Start(ctx)
		assert.EqualError(t, err, "forbidden")
		assert.Zero(t, p.CommentID())
	})
}
