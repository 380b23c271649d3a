// Package reviewer loads the closed set of reviewer kinds used by a run.
// Each reviewer is a markdown file whose YAML frontmatter carries its
// display title; the file body is the reviewer-specific instruction.
package reviewer

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.md
var defaultFS embed.FS

var ErrUnknownReviewer = errors.New("unknown reviewer")

// Reviewer describes one reviewer kind.
type Reviewer struct {
	ID         string
	Title      string
	Prompt     string
	ReportOnly bool
}

type frontmatter struct {
	Title      string `yaml:"title"`
	ReportOnly bool   `yaml:"report_only"`
}

// Catalog is an immutable set of reviewers keyed by id.
type Catalog struct {
	byID map[string]Reviewer
}

// Load reads the embedded reviewers, then overlays every *.md file in dir.
// An empty dir keeps only the embedded set.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Reviewer)}
	if err := c.loadFS(defaultFS, "defaults"); err != nil {
		return nil, err
	}
	if dir == "" {
		return c, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("reviewers dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("reviewers dir %s is not a directory", dir)
	}
	if err := c.loadFS(os.DirFS(dir), "."); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCatalog builds a catalog from explicit descriptors.
func NewCatalog(reviewers ...Reviewer) *Catalog {
	c := &Catalog{byID: make(map[string]Reviewer, len(reviewers))}
	for _, r := range reviewers {
		if r.Title == "" {
			r.Title = r.ID
		}
		c.byID[r.ID] = r
	}
	return c
}

func (c *Catalog) loadFS(fsys fs.FS, root string) error {
	matches, err := fs.Glob(fsys, path.Join(root, "*.md"))
	if err != nil {
		return err
	}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read reviewer %s: %w", name, err)
		}
		r, err := parseReviewer(strings.TrimSuffix(filepath.Base(name), ".md"), string(data))
		if err != nil {
			return fmt.Errorf("reviewer %s: %w", name, err)
		}
		c.byID[r.ID] = r
	}
	return nil
}

func parseReviewer(id, content string) (Reviewer, error) {
	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return Reviewer{}, err
	}
	title := meta.Title
	if title == "" {
		title = id
	}
	return Reviewer{ID: id, Title: title, Prompt: body, ReportOnly: meta.ReportOnly}, nil
}

func splitFrontmatter(content string) (frontmatter, string, error) {
	var meta frontmatter
	if !strings.HasPrefix(content, "---") {
		return meta, content, nil
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return meta, content, nil
	}
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return meta, "", fmt.Errorf("invalid frontmatter: %w", err)
	}
	return meta, strings.TrimLeft(parts[2], "\n"), nil
}

// Get returns the reviewer with the given id.
func (c *Catalog) Get(id string) (Reviewer, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// DisplayName returns the reviewer title, or the id itself when unknown.
func (c *Catalog) DisplayName(id string) string {
	if r, ok := c.byID[id]; ok {
		return r.Title
	}
	return id
}

// All returns every reviewer sorted by id.
func (c *Catalog) All() []Reviewer {
	out := make([]Reviewer, 0, len(c.byID))
	for _, r := range c.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select resolves the enabled reviewer ids in the given order and marks the
// report-only ones. Any id missing from the catalog is an error.
func (c *Catalog) Select(enabled, reportOnly []string) ([]Reviewer, error) {
	ro := make(map[string]bool, len(reportOnly))
	for _, id := range reportOnly {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %q in report_only_reviewers", ErrUnknownReviewer, id)
		}
		ro[id] = true
	}

	seen := make(map[string]bool, len(enabled))
	out := make([]Reviewer, 0, len(enabled))
	for _, id := range enabled {
		r, ok := c.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownReviewer, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		r.ReportOnly = r.ReportOnly || ro[id]
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("no reviewers enabled")
	}
	return out, nil
}

// IDs returns the ids of the given reviewers in order.
func IDs(reviewers []Reviewer) []string {
	ids := make([]string, len(reviewers))
	for i, r := range reviewers {
		ids[i] = r.ID
	}
	return ids
}

// ReportOnlyIDs returns the ids of the reviewers whose findings are reported
// but never fixed.
func ReportOnlyIDs(reviewers []Reviewer) []string {
	var ids []string
	for _, r := range reviewers {
		if r.ReportOnly {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
