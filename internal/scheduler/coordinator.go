package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgelabs/forge/internal/config"
	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/notify"
	"github.com/forgelabs/forge/internal/project"
)

// Dispatcher hands a claimed task to a worker. Implementations must
// compensate internally (release the task back to pending) when delivery
// fails, so the coordinator can treat a dispatch error as already handled.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *db.AgentTask, wave int) error
}

// staleClaimGrace is how long a claimed task may sit without a live
// dispatch before Resume reclaims it. It covers the window between a wave
// claim and the worker picking the event up.
const staleClaimGrace = 30 * time.Second

// Coordinator schedules waves for projects in wave execution. It is safe
// for concurrent use; scheduling within one project is serialized.
type Coordinator struct {
	store      *db.DB
	dispatcher Dispatcher
	publisher  events.Publisher
	notifier   notify.Notifier
	cfg        config.SchedulerConfig
	logger     *slog.Logger
	claimGrace time.Duration

	// Inflight reports whether a worker is currently executing the task.
	// Wired to the worker pool; may be nil when no pool runs in-process.
	Inflight func(taskID string) bool

	mu       sync.Mutex
	projects map[string]*sync.Mutex
}

// New creates a coordinator.
func New(store *db.DB, dispatcher Dispatcher, publisher events.Publisher, notifier notify.Notifier, cfg config.SchedulerConfig, logger *slog.Logger) *Coordinator {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if notifier == nil {
		notifier = notify.NewNopNotifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		claimGrace: staleClaimGrace,
		projects:   make(map[string]*sync.Mutex),
	}
}

// projectMu returns the per-project scheduling lock.
func (c *Coordinator) projectMu(projectID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.projects[projectID]
	if !ok {
		mu = &sync.Mutex{}
		c.projects[projectID] = mu
	}
	return mu
}

// Start begins wave execution for a project. The project must be in the
// wave execution phase with an approved plan.
func (c *Coordinator) Start(ctx context.Context, projectID string) error {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.CurrentPhase != project.PhaseWaveExecution {
		return errors.ErrProjectInvalidPhase(projectID,
			string(p.CurrentPhase), string(project.PhaseWaveExecution))
	}
	if p.PlanApprovalStatus != project.ApprovalApproved {
		return errors.ErrApprovalRequired(projectID)
	}
	return c.Resume(ctx, projectID)
}

// Resume recomputes the ready set and dispatches the next wave. Called at
// start and after every task completion. Idempotent: a resume that finds
// nothing to do, or loses its claim to a concurrent resume, is a no-op.
func (c *Coordinator) Resume(ctx context.Context, projectID string) error {
	mu := c.projectMu(projectID)
	mu.Lock()
	defer mu.Unlock()

	inProgress, err := c.store.TasksByStatus(ctx, projectID, db.StatusInProgress)
	if err != nil {
		return err
	}
	inProgress = c.reclaimStranded(ctx, projectID, inProgress)

	pending, err := c.store.PendingTasks(ctx, projectID)
	if err != nil {
		return err
	}

	if len(pending) == 0 && len(inProgress) == 0 {
		return c.drain(ctx, projectID)
	}

	completed, err := c.store.CompletedTaskKeys(ctx, projectID)
	if err != nil {
		return err
	}
	failed, err := c.store.FailedTaskKeys(ctx, projectID)
	if err != nil {
		return err
	}

	rs := ComputeReady(pending, completed, failed)
	if len(rs.Ready) == 0 {
		if len(inProgress) > 0 {
			// In-flight tasks will trigger another resume when they land.
			return nil
		}
		return c.stall(ctx, projectID, rs)
	}

	maxWave, err := c.store.MaxWave(ctx, projectID)
	if err != nil {
		return err
	}
	wave := BuildWave(maxWave+1, rs.Ready, c.cfg.PerAgentCap, c.cfg.MaxConcurrent)

	if err := c.store.ClaimWave(ctx, projectID, wave.TaskIDs(), wave.Number); err != nil {
		if fe := errors.AsForgeError(err); fe != nil && fe.Code == errors.CodeWaveClaimLost {
			c.logger.Debug("wave claim lost to concurrent resume", "project", projectID)
			return nil
		}
		return err
	}

	c.logger.Info("wave claimed",
		"project", projectID,
		"wave", wave.Number,
		"tasks", len(wave.Tasks),
	)
	c.publisher.Publish(events.NewEvent(events.EventWaveStarted, projectID, "", map[string]any{
		"wave":  wave.Number,
		"tasks": taskKeys(wave.Tasks),
	}))

	for _, t := range wave.Tasks {
		if err := c.dispatcher.Dispatch(ctx, t, wave.Number); err != nil {
			// The dispatcher already released the task; it stays pending
			// for the next resume.
			c.logger.Error("task dispatch failed",
				"project", projectID, "task", t.TaskKey, "error", err)
		}
	}
	return nil
}

// Recover releases every claimed task with no live dispatch back to
// pending. Called once at process start, before the first resume, so tasks
// stranded in_progress by a crash or shutdown run again.
func (c *Coordinator) Recover(ctx context.Context, projectID string) error {
	mu := c.projectMu(projectID)
	mu.Lock()
	defer mu.Unlock()

	inProgress, err := c.store.TasksByStatus(ctx, projectID, db.StatusInProgress)
	if err != nil {
		return err
	}
	for _, t := range inProgress {
		if c.Inflight != nil && c.Inflight(t.ID) {
			continue
		}
		if err := c.store.ReleaseTask(ctx, t.ID); err != nil {
			return fmt.Errorf("recover task %s: %w", t.TaskKey, err)
		}
		c.logger.Warn("released stranded task", "project", projectID, "task", t.TaskKey)
	}
	return nil
}

// reclaimStranded releases claimed tasks whose dispatch is gone back to
// pending and returns the claims that are still live. A claim is stranded
// when no worker reports it in flight and it is older than the grace
// window. Release failures keep the task listed as in flight; a later
// resume retries.
func (c *Coordinator) reclaimStranded(ctx context.Context, projectID string, inProgress []*db.AgentTask) []*db.AgentTask {
	var live []*db.AgentTask
	for _, t := range inProgress {
		if c.Inflight != nil && c.Inflight(t.ID) {
			live = append(live, t)
			continue
		}
		if t.StartedAt != nil && time.Since(*t.StartedAt) < c.claimGrace {
			live = append(live, t)
			continue
		}
		if err := c.store.ReleaseTask(ctx, t.ID); err != nil {
			c.logger.Error("failed to release stranded task",
				"project", projectID, "task", t.TaskKey, "error", err)
			live = append(live, t)
			continue
		}
		c.logger.Warn("released stranded task", "project", projectID, "task", t.TaskKey)
	}
	return live
}

// drain finishes wave execution once every task is terminal.
func (c *Coordinator) drain(ctx context.Context, projectID string) error {
	phase, err := c.store.ProjectPhase(ctx, projectID)
	if err != nil {
		return err
	}
	if phase != project.PhaseWaveExecution {
		// Already drained by a concurrent resume.
		return nil
	}

	failed, err := c.store.FailedTaskKeys(ctx, projectID)
	if err != nil {
		return err
	}
	completed, err := c.store.CompletedTaskKeys(ctx, projectID)
	if err != nil {
		return err
	}

	if err := c.store.SetProjectPhase(ctx, projectID, project.PhaseQualityCheck); err != nil {
		return err
	}

	c.publisher.Publish(events.NewEvent(events.EventWaveCompleted, projectID, "", map[string]any{
		"completed": len(completed),
		"failed":    len(failed),
	}))
	c.notifier.Notify(ctx, projectID, "wave execution finished",
		fmt.Sprintf("%d task(s) completed, %d failed; quality check starting", len(completed), len(failed)))
	return nil
}

// stall records that the remaining pending tasks can never run.
func (c *Coordinator) stall(ctx context.Context, projectID string, rs ReadySet) error {
	var parts []string
	for _, b := range rs.Blocked {
		parts = append(parts, fmt.Sprintf("%s (blocked by %s)",
			b.Task.TaskKey, strings.Join(b.FailedDeps, ", ")))
	}
	for _, t := range rs.Waiting {
		parts = append(parts, fmt.Sprintf("%s (unsatisfiable dependencies)", t.TaskKey))
	}
	sort.Strings(parts)
	msg := "no task can proceed: " + strings.Join(parts, "; ")

	c.logger.Error("wave execution stalled", "project", projectID, "detail", msg)
	if err := c.store.MarkProjectFailed(ctx, projectID, project.PhaseWaveExecution, msg); err != nil {
		return err
	}
	c.publisher.Publish(events.NewEvent(events.EventProjectFailed, projectID, "", msg))
	c.notifier.Notify(ctx, projectID, "wave execution stalled", msg)
	return nil
}

func taskKeys(tasks []*db.AgentTask) []string {
	keys := make([]string, len(tasks))
	for i, t := range tasks {
		keys[i] = t.TaskKey
	}
	return keys
}
