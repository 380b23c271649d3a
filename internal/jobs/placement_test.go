package jobs

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/github"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolvePlacement(t *testing.T) {
	lines := github.CommentableLines{
		"main.go":       {1: {}, 10: {}, 11: {}, 12: {}, 20: {}},
		"pkg/util.go":   {5: {}, 6: {}},
		"cmd/server.go": {3: {}},
		"empty.go":      {},
	}

	tests := []struct {
		name   string
		target Target
		want   Placement
	}{
		{
			name:   "exact single line",
			target: Target{File: "main.go", StartLine: 10, EndLine: 10},
			want:   Placement{File: "main.go", Line: 10, Rule: PlacementExact},
		},
		{
			name:   "exact range keeps start line",
			target: Target{File: "main.go", StartLine: 10, EndLine: 12},
			want:   Placement{File: "main.go", Line: 12, StartLine: 10, Rule: PlacementExact},
		},
		{
			name:   "end line only",
			target: Target{File: "main.go", StartLine: 20},
			want:   Placement{File: "main.go", Line: 20, Rule: PlacementExact},
		},
		{
			name:   "range start outside diff becomes single line",
			target: Target{File: "main.go", StartLine: 8, EndLine: 11},
			want:   Placement{File: "main.go", Line: 11, Rule: PlacementExact},
		},
		{
			name:   "dot slash prefix",
			target: Target{File: "./pkg/util.go", StartLine: 6, EndLine: 6},
			want:   Placement{File: "pkg/util.go", Line: 6, Rule: PlacementExact},
		},
		{
			name:   "closest line in same file drops start line",
			target: Target{File: "main.go", StartLine: 15, EndLine: 17},
			want:   Placement{File: "main.go", Line: 20, Rule: PlacementClosest},
		},
		{
			name:   "closest line prefers lower on tie",
			target: Target{File: "main.go", StartLine: 15, EndLine: 16},
			want:   Placement{File: "main.go", Line: 12, Rule: PlacementClosest},
		},
		{
			name:   "file not in diff uses first file with lines",
			target: Target{File: "docs/readme.md", StartLine: 4, EndLine: 4},
			want:   Placement{File: "cmd/server.go", Line: 3, Rule: PlacementOtherFile},
		},
		{
			name:   "file with no lines falls through",
			target: Target{File: "empty.go", StartLine: 1, EndLine: 1},
			want:   Placement{File: "cmd/server.go", Line: 3, Rule: PlacementOtherFile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePlacement(discardLogger(), tt.target, lines)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePlacement_NoCommentableLines(t *testing.T) {
	tests := map[string]github.CommentableLines{
		"nil table":   nil,
		"empty table": {},
		"empty files": {"a.go": {}, "b.go": {}},
	}
	for name, lines := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ResolvePlacement(discardLogger(), Target{File: "a.go", StartLine: 1, EndLine: 1}, lines)
			assert.ErrorIs(t, err, ErrNoPlacement)
		})
	}
}

func TestResolvePlacement_FromDiff(t *testing.T) {
	diff := `diff --git a/internal/cache/cache.go b/internal/cache/cache.go
index 1111111..2222222 100644
--- a/internal/cache/cache.go
+++ b/internal/cache/cache.go
@@ -40,4 +40,6 @@ func (c *Cache) Put(k string, v []byte) {
 	c.mu.Lock()
+	if c.items == nil {
+		c.items = map[string][]byte{}
+	}
 	c.items[k] = v
 	c.mu.Unlock()
`
	lines := github.ParseCommentableLines(diff, discardLogger())

	got, err := ResolvePlacement(discardLogger(), Target{File: "internal/cache/cache.go", StartLine: 12, EndLine: 12}, lines)
	require.NoError(t, err)
	assert.Equal(t, Placement{File: "internal/cache/cache.go", Line: 40, Rule: PlacementClosest}, got)
}
