package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// RunStatus represents the lifecycle state of a discovery run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are meaningful.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// StepID identifies a pipeline stage.
type StepID string

const (
	StepFinder     StepID = "finder"
	StepCrawler    StepID = "crawler"
	StepExtractor  StepID = "extractor"
	StepNormalizer StepID = "normalizer"
	StepEnricher   StepID = "enricher"
	StepWriter     StepID = "writer"
)

// AllSteps returns the pipeline steps in execution order.
func AllSteps() []StepID {
	return []StepID{
		StepFinder,
		StepCrawler,
		StepExtractor,
		StepNormalizer,
		StepEnricher,
		StepWriter,
	}
}

// StepStatus represents the state of a single pipeline step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusError     StepStatus = "error"
)

// StepState tracks the progress of one step within a run.
type StepState struct {
	Status    StepStatus `json:"status"`
	Count     *int       `json:"count,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// WriteMode selects the reconciliation strategy used by the writer.
type WriteMode string

const (
	WriteModeAppend  WriteMode = "append"
	WriteModeUpdate  WriteMode = "update"
	WriteModeReplace WriteMode = "replace"
)

// ParseWriteMode validates a mode string. Empty defaults to append.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case "":
		return WriteModeAppend, nil
	case WriteModeAppend, WriteModeUpdate, WriteModeReplace:
		return WriteMode(s), nil
	}
	return "", eris.Errorf("model: unknown write mode %q", s)
}

// Totals holds sparse run counters. Nil fields have not been reported yet.
type Totals struct {
	URLsFound  *int `json:"urlsFound,omitempty"`
	Crawled    *int `json:"crawled,omitempty"`
	Extracted  *int `json:"extracted,omitempty"`
	Normalized *int `json:"normalized,omitempty"`
	Enriched   *int `json:"enriched,omitempty"`
	Added      *int `json:"added,omitempty"`
}

// Merge overwrites each counter that is set in delta.
func (t *Totals) Merge(delta *Totals) {
	if delta == nil {
		return
	}
	pick := func(dst **int, src *int) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	pick(&t.URLsFound, delta.URLsFound)
	pick(&t.Crawled, delta.Crawled)
	pick(&t.Extracted, delta.Extracted)
	pick(&t.Normalized, delta.Normalized)
	pick(&t.Enriched, delta.Enriched)
	pick(&t.Added, delta.Added)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// RunState is the authoritative record of one discovery attempt.
type RunState struct {
	RunID         string                `json:"runId"`
	SponsorName   string                `json:"sponsorName"`
	SponsorID     *int64                `json:"sponsorId,omitempty"`
	UserID        string                `json:"userId,omitempty"`
	Mode          WriteMode             `json:"mode"`
	Status        RunStatus             `json:"status"`
	CurrentStepID StepID                `json:"currentStepId,omitempty"`
	Steps         map[StepID]*StepState `json:"steps"`
	Totals        Totals                `json:"totals"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	EndedAt       *time.Time            `json:"endedAt,omitempty"`
	Error         string                `json:"error,omitempty"`
	Cancelled     bool                  `json:"cancelled"`
}

// NewRunState returns a pending run with every step initialized to pending.
func NewRunState(runID, sponsorName string, mode WriteMode, now time.Time) *RunState {
	steps := make(map[StepID]*StepState, len(AllSteps()))
	for _, id := range AllSteps() {
		steps[id] = &StepState{Status: StepStatusPending}
	}
	return &RunState{
		RunID:       runID,
		SponsorName: sponsorName,
		Mode:        mode,
		Status:      RunStatusPending,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Step returns the state for id, creating a pending entry if absent.
func (r *RunState) Step(id StepID) *StepState {
	if r.Steps == nil {
		r.Steps = make(map[StepID]*StepState)
	}
	s, ok := r.Steps[id]
	if !ok {
		s = &StepState{Status: StepStatusPending}
		r.Steps[id] = s
	}
	return s
}

// RunSummary is the durable audit record written after a run completes.
type RunSummary struct {
	RunID       string                `json:"runId"`
	SponsorID   *int64                `json:"sponsorId,omitempty"`
	SponsorName string                `json:"sponsorName"`
	UserID      string                `json:"userId,omitempty"`
	Mode        WriteMode             `json:"mode"`
	StartedAt   time.Time             `json:"startedAt"`
	EndedAt     time.Time             `json:"endedAt"`
	Totals      Totals                `json:"totals"`
	Steps       map[StepID]*StepState `json:"steps"`
}

// SummaryFromState builds the audit record for a finished run.
func SummaryFromState(r *RunState) RunSummary {
	ended := r.UpdatedAt
	if r.EndedAt != nil {
		ended = *r.EndedAt
	}
	return RunSummary{
		RunID:       r.RunID,
		SponsorID:   r.SponsorID,
		SponsorName: r.SponsorName,
		UserID:      r.UserID,
		Mode:        r.Mode,
		StartedAt:   r.CreatedAt,
		EndedAt:     ended,
		Totals:      r.Totals,
		Steps:       r.Steps,
	}
}

// UserEvent is a lifecycle notification routed to a user's topic.
type UserEvent struct {
	Type        string    `json:"type"` // "completed" or "error"
	RunID       string    `json:"runId"`
	SponsorName string    `json:"sponsorName"`
	Added       int       `json:"added,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
