package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/notify"
	"github.com/forgelabs/forge/internal/plan"
	"github.com/forgelabs/forge/internal/project"
	"github.com/forgelabs/forge/internal/search"
)

// Pipeline drives a project from analysis through plan review. Wave
// execution is the scheduler's job; the pipeline stops at the approval
// gate and resumes on the reviewer's verdict.
type Pipeline struct {
	store     *db.DB
	agents    map[project.Phase]PhaseAgent
	searcher  *search.Client
	publisher events.Publisher
	notifier  notify.Notifier
	logger    *slog.Logger
}

// New creates a pipeline. agents must cover every pipeline phase; searcher
// is optional and enriches the research phase when present.
func New(store *db.DB, agents []PhaseAgent, searcher *search.Client, publisher events.Publisher, notifier notify.Notifier, logger *slog.Logger) (*Pipeline, error) {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if notifier == nil {
		notifier = notify.NewNopNotifier()
	}
	if logger == nil {
		logger = slog.Default()
	}

	byPhase := make(map[project.Phase]PhaseAgent, len(agents))
	for _, a := range agents {
		byPhase[a.Phase()] = a
	}
	for _, phase := range project.PipelinePhases {
		if _, ok := byPhase[phase]; !ok {
			return nil, errors.ErrConfigMissing(fmt.Sprintf("agent for phase %s", phase))
		}
	}

	return &Pipeline{
		store:     store,
		agents:    byPhase,
		searcher:  searcher,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
	}, nil
}

// Execute runs the pipeline phases from the project's current phase until
// the plan review gate. A phase failure halts the run and marks the
// project failed; re-running resumes from the failed phase.
func (pl *Pipeline) Execute(ctx context.Context, projectID string) error {
	p, err := pl.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	start := project.PipelineIndex(p.CurrentPhase)
	if start < 0 {
		if p.CurrentPhase == project.PhaseFailed && project.PipelineIndex(p.FailedPhase) >= 0 {
			// Retry from the phase that broke.
			start = project.PipelineIndex(p.FailedPhase)
			p.CurrentPhase = p.FailedPhase
			p.FailedPhase = ""
			p.FailureMsg = ""
		} else {
			return errors.ErrProjectInvalidPhase(projectID,
				string(p.CurrentPhase), "a pipeline phase")
		}
	}

	for _, phase := range project.PipelinePhases[start:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pl.runPhase(ctx, p, phase); err != nil {
			return err
		}
	}

	return pl.enterPlanReview(ctx, p)
}

func (pl *Pipeline) runPhase(ctx context.Context, p *project.Context, phase project.Phase) error {
	p.CurrentPhase = phase
	if err := pl.store.SaveProject(ctx, p); err != nil {
		return err
	}

	pl.logger.Info("phase started", "project", p.ProjectID, "phase", phase)
	pl.publisher.Publish(events.NewEvent(events.EventPhaseStarted, p.ProjectID, "", string(phase)))

	if phase == project.PhaseResearch {
		pl.enrichResearch(ctx, p)
	}

	if err := pl.agents[phase].Run(ctx, p); err != nil {
		return pl.failPhase(ctx, p, phase, err)
	}

	if phase == project.PhasePlanning {
		if err := pl.validatePlan(p); err != nil {
			return pl.failPhase(ctx, p, phase, err)
		}
	}

	if err := pl.store.SaveProject(ctx, p); err != nil {
		return err
	}
	pl.publisher.Publish(events.NewEvent(events.EventPhaseCompleted, p.ProjectID, "", string(phase)))
	return nil
}

// enrichResearch queries the solution index and stashes the hits for the
// research agent. Search trouble degrades to no hits.
func (pl *Pipeline) enrichResearch(ctx context.Context, p *project.Context) {
	if pl.searcher == nil {
		return
	}
	query := p.Blueprint
	if len(query) > 200 {
		query = query[:200]
	}
	results, err := pl.searcher.Search(ctx, query, 5)
	if err != nil {
		pl.logger.Warn("solution search failed, continuing without results",
			"project", p.ProjectID, "error", err)
		return
	}
	if len(results) == 0 {
		return
	}
	if p.BlueprintParsed == nil {
		p.BlueprintParsed = make(map[string]any)
	}
	p.BlueprintParsed["research_results"] = results
}

// validatePlan parses and structurally validates the planning agent's
// output.
func (pl *Pipeline) validatePlan(p *project.Context) error {
	if strings.TrimSpace(p.PlanJSON) == "" {
		return errors.ErrPlanValidation("", "planning agent produced no plan")
	}
	parsed, err := plan.ParseAgentOutput(p.PlanJSON)
	if err != nil {
		return err
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	// Store the normalized form.
	normalized, err := parsed.Marshal()
	if err != nil {
		return err
	}
	p.PlanJSON = normalized
	return nil
}

func (pl *Pipeline) failPhase(ctx context.Context, p *project.Context, phase project.Phase, cause error) error {
	pl.logger.Error("phase failed",
		"project", p.ProjectID, "phase", phase, "error", cause)

	if err := pl.store.MarkProjectFailed(ctx, p.ProjectID, phase, cause.Error()); err != nil {
		pl.logger.Error("failed to record phase failure",
			"project", p.ProjectID, "error", err)
	}
	pl.publisher.Publish(events.NewEvent(events.EventPhaseFailed, p.ProjectID, "", map[string]any{
		"phase": string(phase),
		"error": cause.Error(),
	}))
	pl.notifier.Notify(ctx, p.ProjectID, "pipeline failed",
		fmt.Sprintf("phase %s failed: %v", phase, cause))
	return cause
}

// enterPlanReview parks the project at the approval gate.
func (pl *Pipeline) enterPlanReview(ctx context.Context, p *project.Context) error {
	p.CurrentPhase = project.PhasePlanReview
	p.PlanApprovalStatus = project.ApprovalPending
	if err := pl.store.SaveProject(ctx, p); err != nil {
		return err
	}

	pl.publisher.Publish(events.NewEvent(events.EventPlanReady, p.ProjectID, "", nil))
	pl.notifier.Notify(ctx, p.ProjectID, "plan ready for review",
		"review the execution plan, then approve or reject it")
	return nil
}

// Approve accepts the reviewed plan: tasks are materialized and the
// project moves to wave execution.
func (pl *Pipeline) Approve(ctx context.Context, projectID string) error {
	p, err := pl.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.CurrentPhase != project.PhasePlanReview {
		return errors.ErrProjectInvalidPhase(projectID,
			string(p.CurrentPhase), string(project.PhasePlanReview))
	}
	if p.PlanApprovalStatus != project.ApprovalPending {
		return errors.ErrProjectInvalidPhase(projectID,
			fmt.Sprintf("plan_review with approval %q", p.PlanApprovalStatus),
			"plan_review with a pending approval")
	}

	parsed, err := plan.Unmarshal(p.PlanJSON)
	if err != nil {
		return err
	}
	if err := parsed.Validate(); err != nil {
		return err
	}

	if _, err := pl.store.CreateTasks(ctx, projectID, parsed); err != nil {
		return err
	}

	p.PlanApprovalStatus = project.ApprovalApproved
	p.CurrentPhase = project.PhaseWaveExecution
	if err := pl.store.SaveProject(ctx, p); err != nil {
		return err
	}

	pl.logger.Info("plan approved",
		"project", projectID, "tasks", len(parsed.Tasks))
	pl.publisher.Publish(events.NewEvent(events.EventPlanApproved, projectID, "", map[string]any{
		"tasks": len(parsed.Tasks),
	}))
	return nil
}

// Reject sends the plan back to the planning phase with the reviewer's
// feedback folded into the context for the next attempt.
func (pl *Pipeline) Reject(ctx context.Context, projectID, reason string) error {
	p, err := pl.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.CurrentPhase != project.PhasePlanReview {
		return errors.ErrProjectInvalidPhase(projectID,
			string(p.CurrentPhase), string(project.PhasePlanReview))
	}

	p.PlanApprovalStatus = project.ApprovalRejected
	p.PlanRevisionCount++
	if p.BlueprintParsed == nil {
		p.BlueprintParsed = make(map[string]any)
	}
	p.BlueprintParsed["plan_feedback"] = reason
	p.CurrentPhase = project.PhasePlanning
	if err := pl.store.SaveProject(ctx, p); err != nil {
		return err
	}

	pl.logger.Info("plan rejected",
		"project", projectID, "revision", p.PlanRevisionCount, "reason", reason)
	pl.publisher.Publish(events.NewEvent(events.EventPlanRejected, projectID, "", map[string]any{
		"revision": p.PlanRevisionCount,
		"reason":   reason,
	}))

	// Re-run planning immediately with the feedback in context.
	if err := pl.runPhase(ctx, p, project.PhasePlanning); err != nil {
		return err
	}
	return pl.enterPlanReview(ctx, p)
}
