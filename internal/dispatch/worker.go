package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/forgelabs/forge/internal/config"
	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/executor"
)

// ResumeFunc asks the scheduler to recompute the ready set for a project
// after a task reached a terminal status.
type ResumeFunc func(ctx context.Context, projectID string) error

// WorkerPool consumes dispatch events and runs tasks through the retry
// supervisor with bounded concurrency.
type WorkerPool struct {
	store      *db.DB
	supervisor *executor.Supervisor
	publisher  events.Publisher
	retryCfg   config.RetryConfig
	resume     ResumeFunc
	maxWorkers int
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewWorkerPool creates a worker pool. maxWorkers bounds concurrently
// executing tasks across all projects.
func NewWorkerPool(store *db.DB, supervisor *executor.Supervisor, publisher events.Publisher, retryCfg config.RetryConfig, resume ResumeFunc, maxWorkers int, logger *slog.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool{
		store:      store,
		supervisor: supervisor,
		publisher:  publisher,
		retryCfg:   retryCfg,
		resume:     resume,
		maxWorkers: maxWorkers,
		logger:     logger,
		inflight:   make(map[string]bool),
	}
	supervisor.OnRetry = p.publishRetry
	return p
}

// Run consumes dispatch events until ctx is done. It returns after all
// in-flight tasks finish.
func (p *WorkerPool) Run(ctx context.Context) error {
	ch := p.publisher.Subscribe(events.GlobalProjectID)
	defer p.publisher.Unsubscribe(events.GlobalProjectID, ch)

	g := &errgroup.Group{}
	g.SetLimit(p.maxWorkers)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case ev, ok := <-ch:
			if !ok {
				return g.Wait()
			}
			if ev.Type != events.EventTaskDispatched {
				continue
			}
			taskID := payloadTaskID(ev)
			if taskID == "" {
				p.logger.Warn("dispatch event without task id", "project", ev.ProjectID)
				continue
			}
			if !p.begin(taskID) {
				// Duplicate delivery; the first worker owns it.
				continue
			}
			g.Go(func() error {
				defer p.end(taskID)
				p.execute(ctx, taskID)
				return nil
			})
		}
	}
}

// payloadTaskID digs the task id out of the event data, which may be the
// typed Payload or its JSON round-trip.
func payloadTaskID(ev events.Event) string {
	switch data := ev.Data.(type) {
	case Payload:
		return data.TaskID
	case map[string]any:
		if id, ok := data["task_id"].(string); ok {
			return id
		}
	case string:
		var pl Payload
		if err := json.Unmarshal([]byte(data), &pl); err == nil {
			return pl.TaskID
		}
	}
	return ev.TaskID
}

func (p *WorkerPool) begin(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[taskID] {
		return false
	}
	p.inflight[taskID] = true
	return true
}

func (p *WorkerPool) end(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, taskID)
}

// Inflight reports whether a worker currently owns the task. The scheduler
// uses it to tell live claims from stranded ones.
func (p *WorkerPool) Inflight(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[taskID]
}

// execute runs one claimed task to a terminal status and resumes the
// scheduler.
func (p *WorkerPool) execute(ctx context.Context, taskID string) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		p.logger.Error("worker could not load task", "task", taskID, "error", err)
		return
	}
	if task.Status != db.StatusInProgress {
		// Stale or duplicate event; only claimed tasks run.
		p.logger.Debug("ignoring dispatch for non-claimed task",
			"task", task.TaskKey, "status", task.Status)
		return
	}

	cfg := executor.DeriveRetryConfig(task, p.retryCfg)
	outcome, runErr := p.supervisor.Run(ctx, task, cfg)

	// Terminal writes and the follow-up resume must land even when the pool
	// is shutting down, or the task stays in_progress forever.
	doneCtx := context.WithoutCancel(ctx)

	if outcome.Completed {
		if err := p.store.MarkCompleted(doneCtx, task.ID, outcome.Iterations); err != nil {
			p.logger.Error("failed to mark task completed",
				"task", task.TaskKey, "error", err)
			return
		}
		p.publisher.Publish(events.NewEvent(events.EventTaskCompleted, task.ProjectID, task.ID, map[string]any{
			"task_key":   task.TaskKey,
			"iterations": outcome.Iterations,
			"cost":       outcome.CostDollars,
		}))
	} else {
		p.logger.Warn("task failed permanently",
			"task", task.TaskKey,
			"iterations", outcome.Iterations,
			"error", runErr,
		)
		if err := p.store.MarkFailed(doneCtx, task.ID, outcome.ErrMsg, outcome.Iterations, outcome.Recommendation); err != nil {
			p.logger.Error("failed to mark task failed",
				"task", task.TaskKey, "error", err)
			return
		}
		p.publisher.Publish(events.NewEvent(events.EventTaskFailed, task.ProjectID, task.ID, map[string]any{
			"task_key":       task.TaskKey,
			"error":          outcome.ErrMsg,
			"recommendation": outcome.Recommendation,
		}))
	}

	if p.resume == nil {
		return
	}
	if err := p.resume(doneCtx, task.ProjectID); err != nil {
		p.logger.Error("post-task resume failed",
			"project", task.ProjectID, "task", task.TaskKey, "error", err)
	}
}

func (p *WorkerPool) publishRetry(task *db.AgentTask, attempt int, lastErr error) {
	p.publisher.Publish(events.NewEvent(events.EventTaskRetrying, task.ProjectID, task.ID, map[string]any{
		"task_key": task.TaskKey,
		"attempt":  attempt,
		"error":    lastErr.Error(),
	}))
}
