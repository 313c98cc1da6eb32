// Package project defines the project context and its phase state machine.
package project

import (
	"fmt"
	"time"
)

// Phase represents a coarse pipeline stage for a project.
type Phase string

const (
	PhaseAnalysis      Phase = "analysis"
	PhaseResearch      Phase = "research"
	PhaseValidation    Phase = "validation"
	PhasePlanning      Phase = "planning"
	PhasePlanReview    Phase = "plan_review"
	PhaseWaveExecution Phase = "wave_execution"
	PhaseQualityCheck  Phase = "quality_check"
	PhaseComplete      Phase = "complete"
	PhaseFailed        Phase = "failed"
)

// PipelinePhases is the ordered list of phases the pipeline runs before
// plan review. Wave execution and later phases are driven by the scheduler.
var PipelinePhases = []Phase{
	PhaseAnalysis,
	PhaseResearch,
	PhaseValidation,
	PhasePlanning,
}

// ParsePhase parses a phase string.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseAnalysis, PhaseResearch, PhaseValidation, PhasePlanning,
		PhasePlanReview, PhaseWaveExecution, PhaseQualityCheck,
		PhaseComplete, PhaseFailed:
		return Phase(s), nil
	default:
		return "", fmt.Errorf("unknown phase: %q", s)
	}
}

// PipelineIndex returns the position of p in the pipeline order, or -1 if p
// is not a pipeline phase.
func PipelineIndex(p Phase) int {
	for i, ph := range PipelinePhases {
		if ph == p {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether the phase is a terminal state.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// ApprovalStatus represents the human review decision on a generated plan.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Context is the durable per-project record mutated by phase agents and by
// the scheduler's phase transitions. The store owns the persisted copy; other
// components reread it rather than caching across waves.
type Context struct {
	ProjectID    string `json:"project_id"`
	UserID       string `json:"user_id"`
	CurrentPhase Phase  `json:"current_phase"`

	// Blueprint holds the raw user input; BlueprintParsed is the analysis
	// agent's structured reading of it.
	Blueprint       string         `json:"blueprint"`
	BlueprintParsed map[string]any `json:"blueprint_parsed,omitempty"`

	TechStack    []string `json:"tech_stack,omitempty"`
	Architecture string   `json:"architecture,omitempty"`

	PlanApprovalStatus ApprovalStatus `json:"plan_approval_status"`
	PlanRevisionCount  int            `json:"plan_revision_count"`

	// PlanJSON is the serialized ExecutionPlan produced by the planning
	// phase, kept opaque here to avoid an import cycle with the plan package.
	PlanJSON string `json:"plan_json,omitempty"`

	// FailedPhase records which phase failed when CurrentPhase is failed.
	FailedPhase Phase  `json:"failed_phase,omitempty"`
	FailureMsg  string `json:"failure_msg,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a project context at the start of the pipeline.
func New(projectID, userID, blueprint string) *Context {
	now := time.Now().UTC()
	return &Context{
		ProjectID:    projectID,
		UserID:       userID,
		Blueprint:    blueprint,
		CurrentPhase: PhaseAnalysis,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks structural invariants before persistence.
func (c *Context) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project context missing project_id")
	}
	if _, err := ParsePhase(string(c.CurrentPhase)); err != nil {
		return err
	}
	if c.Version < 1 {
		return fmt.Errorf("project %s has invalid version %d", c.ProjectID, c.Version)
	}
	return nil
}
