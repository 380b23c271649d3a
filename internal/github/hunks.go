package github

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	hunkHeaderRegex = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)
	diffHeaderRegex = regexp.MustCompile(`^diff --git a/.+ b/(.+)$`)
)

// maxAnchorLines bounds the region reported for the largest hunk.
const maxAnchorLines = 10

// CommentableLines maps a file path to the new-side line numbers that
// GitHub accepts review comments on.
type CommentableLines map[string]map[int]struct{}

// Has reports whether line of file is commentable.
func (c CommentableLines) Has(file string, line int) bool {
	_, ok := c[file][line]
	return ok
}

// Lines returns the commentable lines of file in ascending order.
func (c CommentableLines) Lines(file string) []int {
	set := c[file]
	out := make([]int, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Files returns every file with at least one commentable line, sorted.
func (c CommentableLines) Files() []string {
	out := make([]string, 0, len(c))
	for f, set := range c {
		if len(set) > 0 {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Hunk is a bounded anchor region inside one file of a diff.
type Hunk struct {
	File      string
	StartLine int
	EndLine   int
	Changes   int
}

// ParseCommentableLines walks a multi-file unified diff and collects the
// added and context lines of every hunk. Removed lines do not exist on the
// new side and never advance the counter. Input without diff headers yields
// an empty map.
func ParseCommentableLines(diff string, logger *slog.Logger) CommentableLines {
	result := make(CommentableLines)
	currentFile := ""
	currentLine := -1

	for _, line := range strings.Split(diff, "\n") {
		if m := diffHeaderRegex.FindStringSubmatch(line); m != nil {
			currentFile = m[1]
			currentLine = -1
			continue
		}
		if currentFile == "" {
			continue
		}
		if strings.HasPrefix(line, "@@") {
			currentLine = parseHunkStart(line, logger)
			continue
		}
		if currentLine == -1 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, " "):
			if result[currentFile] == nil {
				result[currentFile] = make(map[int]struct{})
			}
			result[currentFile][currentLine] = struct{}{}
			currentLine++
		case strings.HasPrefix(line, "-"):
			continue
		}
	}

	return result
}

// FindLargestHunk returns the hunk with the most added plus removed lines.
// Its EndLine never exceeds StartLine+9. Ties keep the earliest hunk.
func FindLargestHunk(diff string, logger *slog.Logger) (Hunk, bool) {
	var (
		best        Hunk
		found       bool
		currentFile string
		cur         *hunkStats
	)

	flush := func() {
		if cur == nil {
			return
		}
		changes := cur.adds + cur.deletes
		if !found || changes > best.Changes {
			best = cur.anchor(changes)
			found = true
		}
		cur = nil
	}

	for _, line := range strings.Split(diff, "\n") {
		if m := diffHeaderRegex.FindStringSubmatch(line); m != nil {
			flush()
			currentFile = m[1]
			continue
		}
		if currentFile == "" {
			continue
		}
		if strings.HasPrefix(line, "@@") {
			flush()
			start := parseHunkStart(line, logger)
			if start >= 0 {
				cur = &hunkStats{file: currentFile, start: start}
			}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			cur.adds++
		case strings.HasPrefix(line, "-"):
			cur.deletes++
		case strings.HasPrefix(line, " "):
			cur.context++
		}
	}
	flush()

	return best, found
}

type hunkStats struct {
	file    string
	start   int
	adds    int
	deletes int
	context int
}

func (h *hunkStats) anchor(changes int) Hunk {
	end := h.start
	if n := h.adds + h.context; n > 0 {
		end = h.start + min(n-1, maxAnchorLines-1)
	}
	return Hunk{File: h.file, StartLine: h.start, EndLine: end, Changes: changes}
}

func parseHunkStart(line string, logger *slog.Logger) int {
	matches := hunkHeaderRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		if logger != nil {
			logger.Warn("skipped malformed hunk header", "line", line)
		}
		return -1
	}
	start, err := strconv.Atoi(matches[1])
	if err != nil {
		if logger != nil {
			logger.Warn("skipped malformed hunk header", "line", line, "error", err)
		}
		return -1
	}
	return start
}
