package jobs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/storage"
)

const (
	explorationPriority = 1
	explorationMaxDepth = 5
)

// Controller owns the phase state machine of one review. It is the only
// writer of the review's Metadata; every mutation goes through Update and is
// persisted before the lock is released.
type Controller struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	handle storage.Handle
	meta   *core.Metadata
}

// NewController returns a controller with no review attached.
func NewController(store storage.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, logger: logger, now: time.Now}
}

// Handle returns the on-disk location of the attached review.
func (c *Controller) Handle() storage.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Metadata returns the live aggregate. Callers must not mutate it directly
// and must not read it while the analysis phase is running.
func (c *Controller) Metadata() *core.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// StartReview creates the review, stores its context files, seeds the
// exploration queue and leaves the review ready for analysis.
func (c *Controller) StartReview(info core.PRInfo, reviewerIDs []string, files []core.ChangedFile, diff string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta != nil {
		panic("jobs: StartReview called on a controller that already has a review")
	}

	h, meta, err := c.store.CreateReview(info, reviewerIDs)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	c.handle, c.meta = h, meta

	c.beginPhase(core.PhaseInitialization)
	meta.ChangedFiles = files
	if err := c.store.WriteContext(h, files, diff); err != nil {
		c.endPhase(core.PhaseInitialization, core.StatusFailed)
		meta.Status = core.StatusFailed
		_ = c.store.Save(h, meta)
		return fmt.Errorf("failed to write review context: %w", err)
	}
	c.endPhase(core.PhaseInitialization, core.StatusCompleted)

	c.beginPhase(core.PhaseExploration)
	meta.ExplorationQueue = seedExploration(files)
	c.endPhase(core.PhaseExploration, core.StatusCompleted)

	if err := c.store.Save(h, meta); err != nil {
		return err
	}
	c.logger.Info("review started", "pr", info.Number, "dir", h.Dir, "files", len(files), "reviewers", len(reviewerIDs))
	return nil
}

// Resume attaches a previously persisted review.
func (c *Controller) Resume(h storage.Handle) error {
	meta, err := c.store.Load(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle, c.meta = h, meta
	return nil
}

// Update applies fn to the aggregate under the lock and persists it.
func (c *Controller) Update(fn func(m *core.Metadata)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustHaveReview()
	fn(c.meta)
	return c.store.Save(c.handle, c.meta)
}

// AssignDisplayNumbers numbers findings 1..N in persisted order. It runs once
// right before publication; later calls leave existing numbers untouched.
func (c *Controller) AssignDisplayNumbers() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustHaveReview()
	c.requireTerminal(core.PhaseDeepAnalysis, "AssignDisplayNumbers")

	for _, f := range c.meta.Findings {
		if f.Number != nil {
			return nil
		}
	}
	for i, f := range c.meta.Findings {
		n := i + 1
		f.Number = &n
	}
	return c.store.Save(c.handle, c.meta)
}

// BeginPhase moves p to in progress. The previous phase must be terminal.
// Re-entering a phase that is still in progress is allowed so that an
// interrupted fix pass can resume.
func (c *Controller) BeginPhase(p core.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustHaveReview()
	c.beginPhase(p)
	return c.store.Save(c.handle, c.meta)
}

// EndPhase records a terminal status for p. A pending phase may be ended
// directly, which is how a phase is skipped.
func (c *Controller) EndPhase(p core.Phase, status core.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustHaveReview()
	if st := c.meta.Phase(p).Status; st == core.StatusPending {
		c.requirePrevious(p, "EndPhase")
	}
	c.endPhase(p, status)
	return c.store.Save(c.handle, c.meta)
}

// Finish sets the overall review status.
func (c *Controller) Finish(status core.Status) error {
	return c.Update(func(m *core.Metadata) { m.Status = status })
}

func (c *Controller) beginPhase(p core.Phase) {
	st := c.meta.Phase(p)
	if st.Status.Terminal() {
		panic(fmt.Sprintf("jobs: phase %s already finished with status %s", p, st.Status))
	}
	c.requirePrevious(p, "BeginPhase")
	if st.Status == core.StatusPending {
		now := c.now().UTC()
		st.StartedAt = &now
	}
	st.Status = core.StatusInProgress
	c.meta.ReviewState.CurrentPhase = p
}

func (c *Controller) endPhase(p core.Phase, status core.Status) {
	if !status.Terminal() {
		panic(fmt.Sprintf("jobs: EndPhase needs a terminal status, got %s", status))
	}
	st := c.meta.Phase(p)
	if st.Status.Terminal() {
		panic(fmt.Sprintf("jobs: phase %s already finished with status %s", p, st.Status))
	}
	now := c.now().UTC()
	st.Status = status
	st.CompletedAt = &now
	if i := p.Index(); i+1 < len(core.Phases) {
		c.meta.ReviewState.CurrentPhase = core.Phases[i+1]
	} else {
		c.meta.ReviewState.CurrentPhase = p
	}
}

// requirePrevious panics unless the phase before p is terminal.
func (c *Controller) requirePrevious(p core.Phase, op string) {
	i := p.Index()
	if i < 0 {
		panic(fmt.Sprintf("jobs: %s: unknown phase %q", op, p))
	}
	if i == 0 {
		return
	}
	c.requireTerminal(core.Phases[i-1], op)
}

func (c *Controller) requireTerminal(p core.Phase, op string) {
	if st := c.meta.Phase(p).Status; !st.Terminal() {
		panic(fmt.Sprintf("jobs: %s called while phase %s is %s", op, p, st))
	}
}

func (c *Controller) mustHaveReview() {
	if c.meta == nil {
		panic("jobs: no review attached to controller")
	}
}

func seedExploration(files []core.ChangedFile) []core.ExplorationItem {
	var queue []core.ExplorationItem
	for _, f := range files {
		if f.Status == "deleted" {
			continue
		}
		queue = append(queue, core.ExplorationItem{
			Path:     f.Path,
			Priority: explorationPriority,
			Depth:    0,
			MaxDepth: explorationMaxDepth,
		})
	}
	return queue
}
