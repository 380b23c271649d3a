package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/llm"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "cccccccccccccccccccccccccccccccccccccccc"
)

// fakeLookup answers history queries from scripted sequences. The last
// value of a sequence repeats once it is exhausted. The first grepFail and
// headFail calls return an error.
type fakeLookup struct {
	grep     map[string][]string
	heads    []string
	grepFail int
	headFail int
}

func (l *fakeLookup) FindCommitByMessage(_ context.Context, pattern string) (string, error) {
	if l.grepFail > 0 {
		l.grepFail--
		return "", errors.New("git log failed")
	}
	seq := l.grep[pattern]
	if len(seq) == 0 {
		return "", nil
	}
	v := seq[0]
	if len(seq) > 1 {
		l.grep[pattern] = seq[1:]
	}
	return v, nil
}

func (l *fakeLookup) HeadCommit() (string, error) {
	if l.headFail > 0 {
		l.headFail--
		return "", errors.New("HEAD unreadable")
	}
	if len(l.heads) == 0 {
		return "", errors.New("no HEAD")
	}
	v := l.heads[0]
	if len(l.heads) > 1 {
		l.heads = l.heads[1:]
	}
	return v, nil
}

type fixResult struct {
	resp *llm.Response
	err  error
}

type fakeFixer struct {
	results map[int]fixResult
	calls   []int
}

func (f *fakeFixer) Fix(_ context.Context, finding *core.Finding) (*llm.Response, error) {
	n := finding.DisplayNumber()
	f.calls = append(f.calls, n)
	r := f.results[n]
	return r.resp, r.err
}

func structured(obj map[string]any) *llm.Response {
	return &llm.Response{Raw: map[string]any{"structured_output": obj}, CostUSD: 0.1}
}

// readyForFixes returns a controller positioned right before fix application.
func readyForFixes(t *testing.T, findings ...*core.Finding) *Controller {
	t.Helper()
	c, _ := startedController(t)
	require.NoError(t, c.BeginPhase(core.PhaseDeepAnalysis))
	require.NoError(t, c.Update(func(m *core.Metadata) { m.Findings = append(m.Findings, findings...) }))
	require.NoError(t, c.EndPhase(core.PhaseDeepAnalysis, core.StatusCompleted))
	require.NoError(t, c.AssignDisplayNumbers())
	require.NoError(t, c.EndPhase(core.PhaseFixPRCreation, core.StatusSkipped))
	return c
}

func finding(id, reviewerID string, line int) *core.Finding {
	return &core.Finding{
		ID: id, Reviewer: reviewerID, Title: "finding " + id,
		SourceFile: "main.go", SourceLine: line, FixPlan: "fix it",
	}
}

func TestCommitMessagePattern(t *testing.T) {
	assert.Equal(t, `\[PR Review\] (3)`, CommitMessagePattern(3))
}

func TestRunFixApplicationPhaseStrategies(t *testing.T) {
	tests := []struct {
		name         string
		result       fixResult
		grep         []string
		heads        []string
		grepFail     int
		headFail     int
		wantStatus   FixStatus
		wantStrategy string
		wantHash     string
		wantErr      error
	}{
		{
			name:         "structured report",
			result:       fixResult{resp: structured(map[string]any{"file": "pkg/fixed.go", "line": 42, "commit_hash": hashA})},
			wantStatus:   FixApplied,
			wantStrategy: "structured_report",
			wantHash:     hashA,
		},
		{
			name:         "hash in response text",
			result:       fixResult{resp: &llm.Response{Text: "Done. Commit hash: " + hashB}},
			wantStatus:   FixApplied,
			wantStrategy: "response_text",
			wantHash:     hashB,
		},
		{
			name:         "engine failed but commit landed",
			result:       fixResult{err: llm.ErrEngineTimeout},
			grep:         []string{hashA, hashC},
			wantStatus:   FixApplied,
			wantStrategy: "history_grep",
			wantHash:     hashC,
		},
		{
			name:       "engine failed and history unchanged",
			result:     fixResult{err: llm.ErrEngineTimeout},
			grep:       []string{hashA},
			heads:      []string{hashA, hashB},
			wantStatus: FixFailed,
			wantErr:    llm.ErrEngineTimeout,
		},
		{
			name:       "history snapshot failed",
			result:     fixResult{err: llm.ErrEngineTimeout},
			grepFail:   1,
			grep:       []string{hashA},
			heads:      []string{hashA},
			wantStatus: FixFailed,
			wantErr:    llm.ErrEngineTimeout,
		},
		{
			name:       "HEAD snapshot failed",
			result:     fixResult{resp: &llm.Response{Text: "I ran git commit."}},
			headFail:   1,
			heads:      []string{hashB},
			wantStatus: FixFailed,
			wantErr:    llm.ErrNoCommitHash,
		},
		{
			name:         "HEAD moved after commit",
			result:       fixResult{resp: &llm.Response{Text: "I ran git commit and git push."}},
			heads:        []string{hashA, hashB},
			wantStatus:   FixApplied,
			wantStrategy: "head_after_commit",
			wantHash:     hashB,
		},
		{
			name:       "HEAD unchanged",
			result:     fixResult{resp: &llm.Response{Text: "I ran git commit."}},
			heads:      []string{hashA},
			wantStatus: FixFailed,
			wantErr:    llm.ErrNoCommitHash,
		},
		{
			name:       "no changes needed",
			result:     fixResult{resp: structured(map[string]any{"no_changes": true})},
			heads:      []string{hashA},
			wantStatus: FixNoChanges,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := readyForFixes(t, finding("001", "runtime_error", 10))
			lookup := &fakeLookup{
				grep:     map[string][]string{CommitMessagePattern(1): tt.grep},
				heads:    tt.heads,
				grepFail: tt.grepFail,
				headFail: tt.headFail,
			}
			fixer := &fakeFixer{results: map[int]fixResult{1: tt.result}}

			var outcomes []FixOutcome
			summary, err := c.RunFixApplicationPhase(context.Background(), fixer, lookup, nil, func(_ context.Context, out FixOutcome) {
				outcomes = append(outcomes, out)
			})
			require.NoError(t, err)
			require.Len(t, outcomes, 1)

			out := outcomes[0]
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantStrategy, out.Strategy)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(out.Err, tt.wantErr), "got %v", out.Err)
			} else {
				assert.NoError(t, out.Err)
			}

			f := c.Metadata().Findings[0]
			assert.Equal(t, tt.wantHash, f.CommitHash)
			assert.Equal(t, tt.wantStatus == FixNoChanges, f.NoChanges)
			switch tt.wantStatus {
			case FixApplied:
				assert.Len(t, summary.Applied, 1)
			case FixFailed:
				assert.Len(t, summary.Failed, 1)
				assert.Empty(t, f.File)
			case FixNoChanges:
				assert.Len(t, summary.Skipped, 1)
			}
			assert.Equal(t, 1, c.Metadata().Usage.Invocations)
		})
	}
}

func TestFixLocationFromReport(t *testing.T) {
	c := readyForFixes(t, finding("001", "runtime_error", 10), finding("002", "runtime_error", 20))
	lookup := &fakeLookup{heads: []string{hashA}}
	fixer := &fakeFixer{results: map[int]fixResult{
		1: {resp: structured(map[string]any{"file": "pkg/fixed.go", "line": 42, "line_end": 45, "commit_hash": hashA})},
		2: {resp: structured(map[string]any{"commit_hash": hashB})},
	}}

	_, err := c.RunFixApplicationPhase(context.Background(), fixer, lookup, nil, nil)
	require.NoError(t, err)

	first, second := c.Metadata().Findings[0], c.Metadata().Findings[1]
	assert.Equal(t, "pkg/fixed.go", first.File)
	assert.Equal(t, 42, *first.Line)
	assert.Equal(t, 45, *first.LineEnd)

	assert.Equal(t, "main.go", second.File)
	assert.Equal(t, 20, *second.Line)
	assert.Nil(t, second.LineEnd)
}

func TestRunFixApplicationPhaseSkipsAndOrder(t *testing.T) {
	applied := finding("001", "runtime_error", 1)
	applied.CommitHash = hashA
	noPlan := finding("003", "runtime_error", 3)
	noPlan.FixPlan = "  "

	c := readyForFixes(t,
		applied,
		finding("002", "style", 2),
		noPlan,
		finding("004", "runtime_error", 4),
		finding("005", "runtime_error", 5),
	)
	store := c.store
	lookup := &fakeLookup{heads: []string{hashA}}
	fixer := &fakeFixer{results: map[int]fixResult{
		4: {resp: structured(map[string]any{"commit_hash": hashB})},
		5: {resp: &llm.Response{Text: "could not fix"}},
	}}

	var seen []int
	summary, err := c.RunFixApplicationPhase(context.Background(), fixer, lookup, []string{"style"}, func(_ context.Context, out FixOutcome) {
		seen = append(seen, out.Finding.DisplayNumber())
		// The outcome is already on disk when the callback runs.
		meta, err := store.Load(c.Handle())
		require.NoError(t, err)
		persisted := meta.FindingByNumber(out.Finding.DisplayNumber())
		assert.Equal(t, out.Finding.CommitHash, persisted.CommitHash)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5}, fixer.calls)
	assert.Equal(t, []int{4, 5}, seen)
	assert.Len(t, summary.Applied, 2)
	assert.Len(t, summary.Failed, 1)
	assert.Len(t, summary.Skipped, 2)
	assert.Equal(t, core.StatusCompleted, c.Metadata().Phase(core.PhaseFixApplication).Status)
}

func TestRunFixApplicationPhaseResume(t *testing.T) {
	c := readyForFixes(t, finding("001", "runtime_error", 1), finding("002", "runtime_error", 2))
	require.NoError(t, c.BeginPhase(core.PhaseFixApplication))
	require.NoError(t, c.Update(func(m *core.Metadata) { m.Findings[0].CommitHash = hashA }))

	// Simulate a crash: a new controller picks the review up from disk.
	resumed := NewController(c.store, discardLogger())
	require.NoError(t, resumed.Resume(c.Handle()))

	fixer := &fakeFixer{results: map[int]fixResult{2: {resp: structured(map[string]any{"commit_hash": hashB})}}}
	summary, err := resumed.RunFixApplicationPhase(context.Background(), fixer, &fakeLookup{}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, fixer.calls)
	assert.Len(t, summary.Applied, 2)
	assert.Equal(t, hashB, resumed.Metadata().FindingByNumber(2).CommitHash)
}

func TestEngineFixerPrompts(t *testing.T) {
	prompts, err := llm.NewPromptManager()
	require.NoError(t, err)
	c := readyForFixes(t, finding("001", "runtime_error", 10))
	f := c.Metadata().Findings[0]

	for _, tt := range []struct {
		variant  llm.Variant
		branch   string
		wantPush bool
	}{
		{llm.DefaultVariant, "fix/pr-7", true},
		{llm.LocalVariant, "", false},
	} {
		t.Run(string(tt.variant), func(t *testing.T) {
			runner := &recordingRunner{resp: structured(map[string]any{"commit_hash": hashA})}
			fixer := NewEngineFixer(runner, prompts, c.store, c.Handle(), tt.branch, tt.variant, discardLogger())

			_, err := fixer.Fix(context.Background(), f)
			require.NoError(t, err)
			require.Len(t, runner.reqs, 1)
			req := runner.reqs[0]
			assert.Equal(t, llm.ToolsFull, req.Tools)
			assert.Equal(t, llm.FixResultSchema, req.Schema)
			assert.Contains(t, req.SystemPrompt+req.UserMessage, "[PR Review] (1)")
			assert.Equal(t, tt.wantPush, strings.Contains(req.SystemPrompt+req.UserMessage, "git push"))
		})
	}
}

type recordingRunner struct {
	resp *llm.Response
	err  error
	reqs []llm.Request
}

func (r *recordingRunner) Run(_ context.Context, req llm.Request) (*llm.Response, error) {
	r.reqs = append(r.reqs, req)
	return r.resp, r.err
}
