// Package storage persists review metadata as one JSON document per review
// directory, alongside the context and debug artifacts of that review.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
)

const (
	metadataFile   = "metadata.json"
	currentPointer = ".current-review"
	contextDir     = "context"
	debugDir       = "debug"
	reportFile     = "report.md"
	dirTimeLayout  = "20060102-150405"
)

var (
	ErrNoCurrentReview = errors.New("no current review")
	ErrReviewNotFound  = errors.New("review metadata not found")
)

// Handle locates one review on disk.
type Handle struct {
	Dir string
}

// MetadataPath returns the path of the review's JSON document.
func (h Handle) MetadataPath() string { return filepath.Join(h.Dir, metadataFile) }

// ChangedFilesPath returns the path of the change list handed to reviewers.
func (h Handle) ChangedFilesPath() string {
	return filepath.Join(h.Dir, contextDir, "changed_files.txt")
}

// DiffPath returns the path of the stored diff.
func (h Handle) DiffPath() string { return filepath.Join(h.Dir, contextDir, "diff.patch") }

// ReportPath returns the path of the review's markdown report.
func (h Handle) ReportPath() string { return filepath.Join(h.Dir, reportFile) }

// Store defines the persistence operations for review metadata.
// Callers always read-modify-write the whole aggregate.
type Store interface {
	CreateReview(info core.PRInfo, reviewerIDs []string) (Handle, *core.Metadata, error)
	Load(h Handle) (*core.Metadata, error)
	Save(h Handle, meta *core.Metadata) error
	Current() (Handle, error)
	WriteContext(h Handle, files []core.ChangedFile, diff string) error
	WriteDebug(h Handle, reviewer, kind, content string) error
	WriteReport(h Handle, content string) error
}

type fileStore struct {
	root   string
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Store.
type Option func(*fileStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *fileStore) { s.now = now }
}

// NewStore creates a Store rooted at reviewsDir.
func NewStore(reviewsDir string, logger *slog.Logger, opts ...Option) Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &fileStore{root: reviewsDir, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *fileStore) CreateReview(info core.PRInfo, reviewerIDs []string) (Handle, *core.Metadata, error) {
	now := s.now().UTC()
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return Handle{}, nil, fmt.Errorf("failed to create reviews dir: %w", err)
	}

	base := fmt.Sprintf("%d-%s", info.Number, now.Format(dirTimeLayout))
	dir := filepath.Join(s.root, base)
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return Handle{}, nil, fmt.Errorf("failed to create review dir: %w", err)
		}
		dir = filepath.Join(s.root, fmt.Sprintf("%s-%d", base, i))
	}

	h := Handle{Dir: dir}
	meta := core.NewMetadata(info, reviewerIDs, now)
	if err := s.Save(h, meta); err != nil {
		return Handle{}, nil, err
	}
	if err := writeFileAtomic(filepath.Join(s.root, currentPointer), []byte(filepath.Base(dir)+"\n")); err != nil {
		return Handle{}, nil, fmt.Errorf("failed to update current review pointer: %w", err)
	}

	s.logger.Info("review created", "dir", dir, "pr", info.Number, "reviewers", len(reviewerIDs))
	return h, meta, nil
}

func (s *fileStore) Load(h Handle) (*core.Metadata, error) {
	data, err := os.ReadFile(h.MetadataPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, h.Dir)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta core.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", h.MetadataPath(), err)
	}
	if meta.Reviewers == nil {
		meta.Reviewers = map[string]*core.ReviewerState{}
	}
	if meta.Findings == nil {
		meta.Findings = []*core.Finding{}
	}
	return &meta, nil
}

// Save stamps UpdatedAt and replaces the document in a single rename.
func (s *fileStore) Save(h Handle, meta *core.Metadata) error {
	meta.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeFileAtomic(h.MetadataPath(), data); err != nil {
		s.logger.Error("failed to persist metadata", "dir", h.Dir, "error", err)
		return fmt.Errorf("failed to persist metadata: %w", err)
	}
	return nil
}

func (s *fileStore) Current() (Handle, error) {
	data, err := os.ReadFile(filepath.Join(s.root, currentPointer))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Handle{}, ErrNoCurrentReview
		}
		return Handle{}, fmt.Errorf("failed to read current review pointer: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return Handle{}, ErrNoCurrentReview
	}
	return Handle{Dir: filepath.Join(s.root, name)}, nil
}

func (s *fileStore) WriteContext(h Handle, files []core.ChangedFile, diff string) error {
	dir := filepath.Join(h.Dir, contextDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create context dir: %w", err)
	}
	if err := os.WriteFile(h.ChangedFilesPath(), []byte(FormatChangedFiles(files)), 0o644); err != nil {
		return fmt.Errorf("failed to write changed files: %w", err)
	}
	if err := os.WriteFile(h.DiffPath(), []byte(diff), 0o644); err != nil {
		return fmt.Errorf("failed to write diff: %w", err)
	}
	return nil
}

func (s *fileStore) WriteDebug(h Handle, reviewer, kind, content string) error {
	dir := filepath.Join(h.Dir, debugDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s", reviewer, kind)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func (s *fileStore) WriteReport(h Handle, content string) error {
	return writeFileAtomic(h.ReportPath(), []byte(content))
}

// FormatChangedFiles renders the change set as "- path (status, +a/-d)" lines.
func FormatChangedFiles(files []core.ChangedFile) string {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "- %s (%s, +%d/-%d)\n", f.Path, f.Status, f.Additions, f.Deletions)
	}
	return sb.String()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
