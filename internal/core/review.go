package core

import "time"

// MetadataVersion is written into every persisted review document.
const MetadataVersion = "1.0"

// Phase is one stage of the review lifecycle. Phases only move forward.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseExploration    Phase = "exploration"
	PhaseDeepAnalysis   Phase = "deep_analysis"
	PhaseFixPRCreation  Phase = "fix_pr_creation"
	PhaseFixApplication Phase = "fix_application"
	PhaseCommentPosting Phase = "comment_posting"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseInitialization,
	PhaseExploration,
	PhaseDeepAnalysis,
	PhaseFixPRCreation,
	PhaseFixApplication,
	PhaseCommentPosting,
}

// Index returns the position of p in the lifecycle, or -1 if p is unknown.
func (p Phase) Index() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

// Status is shared by phases, reviewers and the review as a whole.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// PRInfo identifies the change under review.
type PRInfo struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	URL        string `json:"url"`
}

// ChangedFile is one entry of the change set.
type ChangedFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Finding is a single reported issue tracked from analysis to publication.
type Finding struct {
	// Set once by the analysis phase.
	ID            string `json:"id"`
	Reviewer      string `json:"reviewer"`
	SourceFile    string `json:"source_file"`
	SourceLine    int    `json:"source_line"`
	SourceLineEnd *int   `json:"source_line_end,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Scenario      string `json:"scenario,omitempty"`
	FixPlan       string `json:"fix_plan,omitempty"`
	FixSummary    string `json:"fix_summary,omitempty"`

	// Assigned once, right before publication.
	Number *int `json:"number,omitempty"`

	// Fix application results.
	File       string `json:"file,omitempty"`
	Line       *int   `json:"line,omitempty"`
	LineEnd    *int   `json:"line_end,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
	CommentURL string `json:"comment_url,omitempty"`
	NoChanges  bool   `json:"no_changes,omitempty"`
}

// DisplayNumber returns the assigned display number or 0.
func (f *Finding) DisplayNumber() int {
	if f.Number == nil {
		return 0
	}
	return *f.Number
}

// Applied reports whether a fix commit is recorded for the finding.
func (f *Finding) Applied() bool {
	return f.CommitHash != ""
}

// TargetFile returns the fix location, falling back to the source location.
func (f *Finding) TargetFile() string {
	if f.File != "" {
		return f.File
	}
	return f.SourceFile
}

// TargetLine returns the fix line, falling back to the source line.
func (f *Finding) TargetLine() int {
	if f.Line != nil {
		return *f.Line
	}
	return f.SourceLine
}

// TargetLineEnd returns the last line of the fix range. When no range end
// is known it equals TargetLine.
func (f *Finding) TargetLineEnd() int {
	switch {
	case f.LineEnd != nil:
		return *f.LineEnd
	case f.Line != nil:
		return *f.Line
	case f.SourceLineEnd != nil:
		return *f.SourceLineEnd
	default:
		return f.SourceLine
	}
}

// PhaseState tracks one phase.
type PhaseState struct {
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReviewState is the phase state machine snapshot.
type ReviewState struct {
	CurrentPhase Phase                 `json:"current_phase"`
	Phases       map[Phase]*PhaseState `json:"phases"`
}

// ReviewerState tracks one reviewer kind during analysis.
type ReviewerState struct {
	Status        Status `json:"status"`
	FindingsCount int    `json:"findings_count"`
	Error         string `json:"error,omitempty"`
}

// ExplorationItem is a seed entry for optional pre-analysis exploration.
type ExplorationItem struct {
	Path     string `json:"path"`
	Priority int    `json:"priority"`
	Depth    int    `json:"depth"`
	MaxDepth int    `json:"max_depth"`
}

// Usage accumulates what the analysis engine reported it cost.
type Usage struct {
	AnalysisCostUSD float64 `json:"analysis_cost_usd"`
	FixCostUSD      float64 `json:"fix_cost_usd"`
	Invocations     int     `json:"invocations"`
}

// Verification records the post-fix verify command outcome.
type Verification struct {
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	Errors    []string   `json:"errors,omitempty"`
	LastCheck *time.Time `json:"last_check,omitempty"`
}

// FixPR describes the published tracking pull request.
type FixPR struct {
	Number       int    `json:"number"`
	URL          string `json:"url"`
	Branch       string `json:"branch"`
	TargetBranch string `json:"target_branch"`
}

// Metadata is the persisted aggregate of one review.
type Metadata struct {
	Version           string                    `json:"version"`
	PR                PRInfo                    `json:"pr"`
	StartedAt         time.Time                 `json:"started_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
	Status            Status                    `json:"status"`
	ChangedFiles      []ChangedFile             `json:"changed_files"`
	ReviewState       ReviewState               `json:"review_state"`
	Reviewers         map[string]*ReviewerState `json:"reviewers"`
	Findings          []*Finding                `json:"findings"`
	ExplorationQueue  []ExplorationItem         `json:"exploration_queue,omitempty"`
	ProgressCommentID int64                     `json:"progress_comment_id,omitempty"`
	FixPR             *FixPR                    `json:"fix_pr,omitempty"`
	Usage             Usage                     `json:"usage"`
	Verification      *Verification             `json:"verification,omitempty"`
}

// NewMetadata builds a fresh aggregate with every phase and reviewer pending.
func NewMetadata(info PRInfo, reviewerIDs []string, now time.Time) *Metadata {
	phases := make(map[Phase]*PhaseState, len(Phases))
	for _, p := range Phases {
		phases[p] = &PhaseState{Status: StatusPending}
	}
	reviewers := make(map[string]*ReviewerState, len(reviewerIDs))
	for _, id := range reviewerIDs {
		reviewers[id] = &ReviewerState{Status: StatusPending}
	}
	return &Metadata{
		Version:   MetadataVersion,
		PR:        info,
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusInProgress,
		ReviewState: ReviewState{
			CurrentPhase: PhaseInitialization,
			Phases:       phases,
		},
		Reviewers: reviewers,
		Findings:  []*Finding{},
	}
}

// Phase returns the state of p, creating a pending entry if it is missing.
func (m *Metadata) Phase(p Phase) *PhaseState {
	if m.ReviewState.Phases == nil {
		m.ReviewState.Phases = make(map[Phase]*PhaseState, len(Phases))
	}
	st, ok := m.ReviewState.Phases[p]
	if !ok {
		st = &PhaseState{Status: StatusPending}
		m.ReviewState.Phases[p] = st
	}
	return st
}

// FindingByNumber looks up a finding by display number.
func (m *Metadata) FindingByNumber(n int) *Finding {
	for _, f := range m.Findings {
		if f.DisplayNumber() == n {
			return f
		}
	}
	return nil
}

// AppliedFindings returns the findings that carry a commit hash.
func (m *Metadata) AppliedFindings() []*Finding {
	var out []*Finding
	for _, f := range m.Findings {
		if f.Applied() {
			out = append(out, f)
		}
	}
	return out
}
