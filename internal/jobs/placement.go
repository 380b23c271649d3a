package jobs

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/sevigo/pr-warden/internal/github"
)

// ErrNoPlacement means the diff has no commentable line at all.
var ErrNoPlacement = errors.New("no commentable line in diff")

// PlacementRule names the fallback step that produced a placement.
type PlacementRule string

const (
	PlacementExact     PlacementRule = "exact"
	PlacementClosest   PlacementRule = "closest_in_file"
	PlacementOtherFile PlacementRule = "first_commentable_file"
)

// Placement is a legal anchor for a review comment. StartLine is zero for
// single line comments.
type Placement struct {
	File      string
	Line      int
	StartLine int
	Rule      PlacementRule
}

// Target is the nominal location a comment should go to.
type Target struct {
	File      string
	StartLine int
	EndLine   int
}

// ResolvePlacement maps a possibly stale target onto the commentable lines
// of the diff. The chain is: the exact end line (keeping the start line when
// it differs), then the closest line in the same file as a single line
// comment, then the lowest line of the first file that has any.
func ResolvePlacement(logger *slog.Logger, target Target, lines github.CommentableLines) (Placement, error) {
	file := strings.TrimPrefix(target.File, "./")
	end := target.EndLine
	if end <= 0 {
		end = target.StartLine
	}

	if lines.Has(file, end) {
		p := Placement{File: file, Line: end, Rule: PlacementExact}
		if target.StartLine > 0 && target.StartLine < end && lines.Has(file, target.StartLine) {
			p.StartLine = target.StartLine
		}
		return p, nil
	}

	if candidates := lines.Lines(file); len(candidates) > 0 {
		closest := candidates[0]
		for _, l := range candidates[1:] {
			if absDiff(l, end) < absDiff(closest, end) {
				closest = l
			}
		}
		logger.Warn("comment target not in diff, using closest line",
			"file", file, "requested", end, "line", closest)
		return Placement{File: file, Line: closest, Rule: PlacementClosest}, nil
	}

	for _, other := range lines.Files() {
		ls := lines.Lines(other)
		if len(ls) == 0 {
			continue
		}
		logger.Warn("comment target file not in diff, using another file",
			"file", file, "fallback_file", other, "line", ls[0])
		return Placement{File: other, Line: ls[0], Rule: PlacementOtherFile}, nil
	}

	logger.Warn("no commentable line in diff, skipping comment", "file", file, "line", end)
	return Placement{}, ErrNoPlacement
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
