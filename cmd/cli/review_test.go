package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/config"
)

func TestResolveTarget(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{ProjectPath: t.TempDir(), GitHub: config.GitHubConfig{Repo: "acme/widgets"}}

	tests := []struct {
		name    string
		target  string
		owner   string
		repo    string
		number  int
		wantErr bool
	}{
		{name: "number", target: "42", owner: "acme", repo: "widgets", number: 42},
		{name: "hash prefixed", target: "#7", owner: "acme", repo: "widgets", number: 7},
		{name: "url", target: "https://github.com/other/thing/pull/9", owner: "other", repo: "thing", number: 9},
		{name: "zero", target: "0", wantErr: true},
		{name: "garbage", target: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, number, err := resolveTarget(cfg, tt.target, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
			assert.Equal(t, tt.number, number)
		})
	}
}

func TestResolveRepositoryRejectsMalformedRepo(t *testing.T) {
	cfg := &config.Config{GitHub: config.GitHubConfig{Repo: "widgets"}}
	_, _, err := resolveRepository(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "owner/name")
}

func TestShortSHA(t *testing.T) {
	assert.Equal(t, "abcdef1", shortSHA("abcdef1234567"))
	assert.Equal(t, "abc", shortSHA("abc"))
}
