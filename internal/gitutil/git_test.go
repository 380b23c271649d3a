package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/core"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-b", "main")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "user.name", "Test")
	writeFile(t, dir, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, dir, "old.go", "package a\n")
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRepo_BranchLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	r := NewRepo(dir, nil)

	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	head, err := r.HeadCommit()
	require.NoError(t, err)
	assert.Len(t, head, 40)

	require.NoError(t, r.CreateBranchFrom(ctx, "fix/pr-1", head))
	branch, err = r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "fix/pr-1", branch)

	require.NoError(t, r.Commit(ctx, "[PR Review] PR #1: starting automated fixes", true))
	newHead, err := r.HeadCommit()
	require.NoError(t, err)
	assert.NotEqual(t, head, newHead)

	require.NoError(t, r.Checkout(ctx, "main"))
	require.NoError(t, r.DeleteBranch(ctx, "fix/pr-1", true))
	assert.Error(t, r.Checkout(ctx, "fix/pr-1"))
}

func TestRepo_CommandTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr error
	}{
		{name: "no limit", timeout: 0},
		{name: "generous limit", timeout: time.Minute},
		{name: "expired limit", timeout: time.Nanosecond, wantErr: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRepo(initTestRepo(t), nil)
			r.Timeout = tt.timeout

			err := r.Checkout(context.Background(), "main")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewRepoDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewRepo(t.TempDir(), nil).Timeout)
}

func TestRepo_DetachedHead(t *testing.T) {
	dir := initTestRepo(t)
	head := gitCmd(t, dir, "rev-parse", "HEAD")
	gitCmd(t, dir, "checkout", "--detach", head)

	_, err := NewRepo(dir, nil).CurrentBranch()
	assert.ErrorIs(t, err, ErrDetachedHead)
}

func TestRepo_FindCommitByMessage(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	r := NewRepo(dir, nil)

	hash, err := r.FindCommitByMessage(ctx, `\[PR Review\] (2)`)
	require.NoError(t, err)
	assert.Empty(t, hash)

	writeFile(t, dir, "a.go", "package a\n\nfunc A() { _ = 1 }\n")
	gitCmd(t, dir, "add", "a.go")
	require.NoError(t, r.Commit(ctx, "[PR Review] (2) Use the value", false))

	hash, err = r.FindCommitByMessage(ctx, `\[PR Review\] (2)`)
	require.NoError(t, err)
	assert.Equal(t, gitCmd(t, dir, "rev-parse", "HEAD"), hash)

	other, err := r.FindCommitByMessage(ctx, `\[PR Review\] (3)`)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRepo_Stash(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	r := NewRepo(dir, nil)

	dirty, err := r.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	writeFile(t, dir, "scratch.txt", "wip")
	dirty, err = r.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, r.StashPush(ctx, "PR Review: temporary stash before fix PR creation"))
	dirty, err = r.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, r.StashPop(ctx))
	assert.FileExists(t, filepath.Join(dir, "scratch.txt"))
}

func TestRepo_ChangedFilesAgainst(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	r := NewRepo(dir, nil)

	gitCmd(t, dir, "checkout", "-b", "feature")
	writeFile(t, dir, "a.go", "package a\n\nfunc A() {}\n\nfunc B() {}\n")
	writeFile(t, dir, "new.go", "package a\n\nvar X = 1\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "old.go")))
	gitCmd(t, dir, "add", "-A")
	require.NoError(t, r.Commit(ctx, "feature work", false))

	files, err := r.ChangedFilesAgainst(ctx, "main")
	require.NoError(t, err)

	byPath := make(map[string]core.ChangedFile)
	for _, f := range files {
		byPath[f.Path] = f
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, core.ChangedFile{Path: "a.go", Status: "modified", Additions: 2, Deletions: 0}, byPath["a.go"])
	assert.Equal(t, "added", byPath["new.go"].Status)
	assert.Equal(t, 3, byPath["new.go"].Additions)
	assert.Equal(t, "deleted", byPath["old.go"].Status)

	diff, err := r.DiffAgainst(ctx, "main")
	require.NoError(t, err)
	assert.Contains(t, diff, "diff --git a/new.go b/new.go")
}

func TestParseChangedFiles(t *testing.T) {
	numstat := "3\t1\tsrc/a.go\n-\t-\tassets/logo.png\n0\t0\told/name.go => new/name.go\n"
	nameStatus := "M\tsrc/a.go\nA\tassets/logo.png\nR100\told/name.go\tnew/name.go\nC75\tx.go\ty.go\nT\tlink\n"

	files := parseChangedFiles(numstat, nameStatus)
	assert.Equal(t, []core.ChangedFile{
		{Path: "src/a.go", Status: "modified", Additions: 3, Deletions: 1},
		{Path: "assets/logo.png", Status: "added"},
		{Path: "new/name.go", Status: "renamed"},
		{Path: "y.go", Status: "copied"},
		{Path: "link", Status: "modified"},
	}, files)
}

func TestRepo_RemoteURL(t *testing.T) {
	dir := initTestRepo(t)
	gitCmd(t, dir, "remote", "add", "origin", "git@github.com:acme/shop.git")

	url, err := NewRepo(dir, nil).RemoteURL()
	require.NoError(t, err)
	owner, repo, err := ParseRepository(url)
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "shop", repo)
}
