// Package gitutil runs version-control operations against the local
// working tree the review operates on.
package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/sevigo/pr-warden/internal/core"
)

var ErrDetachedHead = errors.New("HEAD is detached")

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 5 * time.Minute

// Repo handles git operations for a single working tree.
type Repo struct {
	Path   string
	Logger *slog.Logger
	// Timeout bounds each git command. Zero means no limit.
	Timeout time.Duration
}

// NewRepo returns a Repo rooted at path.
func NewRepo(path string, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{Path: path, Logger: logger, Timeout: DefaultTimeout}
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.String(), fmt.Errorf("git %s failed: %w", args[0], ctxErr)
		}
		return stdout.String(), fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

func (r *Repo) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(r.Path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", r.Path, err)
	}
	return repo, nil
}

// CurrentBranch returns the short name of the checked out branch.
func (r *Repo) CurrentBranch() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

// HeadCommit returns the full hash of HEAD.
func (r *Repo) HeadCommit() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// HasUncommittedChanges reports whether the worktree has staged, unstaged
// or untracked changes.
func (r *Repo) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// RemoteURL returns the first URL configured for origin.
func (r *Repo) RemoteURL() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("failed to read origin remote: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("origin remote has no URL")
	}
	return urls[0], nil
}

// Fetch fetches refspecs from origin, retrying transient failures.
func (r *Repo) Fetch(ctx context.Context, refSpecs ...string) error {
	args := append([]string{"fetch", "origin"}, refSpecs...)

	const maxRetries = 3
	const baseDelay = 2 * time.Second

	var err error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<(i-1))
			r.Logger.WarnContext(ctx, "git fetch failed, retrying",
				"attempt", i,
				"max_retries", maxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if _, err = r.run(ctx, args...); err == nil {
			return nil
		}
	}
	return err
}

// Checkout switches to an existing branch or commit.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	r.Logger.Debug("checking out", "ref", ref)
	_, err := r.run(ctx, "checkout", ref)
	return err
}

// CreateBranchFrom creates branch at startPoint and checks it out.
func (r *Repo) CreateBranchFrom(ctx context.Context, branch, startPoint string) error {
	r.Logger.Info("creating branch", "branch", branch, "from", startPoint)
	_, err := r.run(ctx, "checkout", "-b", branch, startPoint)
	return err
}

// DeleteBranch removes a local branch.
func (r *Repo) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := r.run(ctx, "branch", flag, branch)
	return err
}

// Commit records staged changes. allowEmpty permits a marker commit.
func (r *Repo) Commit(ctx context.Context, message string, allowEmpty bool) error {
	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	_, err := r.run(ctx, args...)
	return err
}

// Push pushes branch to origin.
func (r *Repo) Push(ctx context.Context, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, "origin", branch)
	_, err := r.run(ctx, args...)
	return err
}

// StashPush stashes uncommitted changes including untracked files.
func (r *Repo) StashPush(ctx context.Context, message string) error {
	_, err := r.run(ctx, "stash", "push", "--include-untracked", "-m", message)
	return err
}

// StashPop restores the most recent stash.
func (r *Repo) StashPop(ctx context.Context) error {
	_, err := r.run(ctx, "stash", "pop")
	return err
}

// DiffAgainst returns the three-dot diff of HEAD against base.
func (r *Repo) DiffAgainst(ctx context.Context, base string) (string, error) {
	return r.run(ctx, "diff", base+"...HEAD")
}

// FindCommitByMessage returns the newest commit whose message matches the
// grep pattern, or "" when there is none.
func (r *Repo) FindCommitByMessage(ctx context.Context, pattern string) (string, error) {
	out, err := r.run(ctx, "log", "--grep", pattern, "-n", "1", "--format=%H")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

var nameStatusMap = map[byte]string{
	'M': "modified",
	'A': "added",
	'D': "deleted",
	'R': "renamed",
	'C': "copied",
}

// ChangedFilesAgainst lists files changed on HEAD since it diverged from base.
func (r *Repo) ChangedFilesAgainst(ctx context.Context, base string) ([]core.ChangedFile, error) {
	numstat, err := r.run(ctx, "diff", "--numstat", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	nameStatus, err := r.run(ctx, "diff", "--name-status", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	return parseChangedFiles(numstat, nameStatus), nil
}

func parseChangedFiles(numstat, nameStatus string) []core.ChangedFile {
	type stat struct{ add, del int }
	stats := make(map[string]stat)
	for _, line := range strings.Split(strings.TrimSpace(numstat), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		path := parts[len(parts)-1]
		if i := strings.Index(path, " => "); i >= 0 && !strings.Contains(path, "{") {
			path = path[i+len(" => "):]
		}
		stats[path] = stat{add: atoiOrZero(parts[0]), del: atoiOrZero(parts[1])}
	}

	var files []core.ChangedFile
	for _, line := range strings.Split(strings.TrimSpace(nameStatus), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		status, ok := nameStatusMap[parts[0][0]]
		if !ok {
			status = "modified"
		}
		path := parts[len(parts)-1]
		s := stats[path]
		files = append(files, core.ChangedFile{Path: path, Status: status, Additions: s.add, Deletions: s.del})
	}
	return files
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
