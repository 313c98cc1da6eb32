// Package dispatch moves claimed tasks from the scheduler to workers over
// the event bus, and runs the workers that execute them.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/events"
)

// dispatchTimeout bounds how long a dispatch waits for a worker to accept.
const dispatchTimeout = 5 * time.Second

// Payload is the event data attached to a task dispatch.
type Payload struct {
	TaskID  string `json:"task_id"`
	TaskKey string `json:"task_key"`
	Wave    int    `json:"wave"`
}

// Dispatcher delivers claimed tasks to workers. A failed delivery releases
// the task back to pending so a later resume can pick it up again.
type Dispatcher struct {
	store     *db.DB
	publisher events.Publisher
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store *db.DB, publisher events.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, publisher: publisher, logger: logger}
}

// Dispatch publishes a task execution event and waits for a worker to
// accept it. On delivery failure the claim is compensated: the task goes
// back to pending and the error reports the dispatch as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, task *db.AgentTask, wave int) error {
	ev := events.NewEvent(events.EventTaskDispatched, task.ProjectID, task.ID, Payload{
		TaskID:  task.ID,
		TaskKey: task.TaskKey,
		Wave:    wave,
	})

	sendCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	if err := d.publisher.Dispatch(sendCtx, ev); err != nil {
		d.logger.Error("dispatch delivery failed, releasing task",
			"task", task.TaskKey, "error", err)

		// Compensate on a fresh context; the send context may be done.
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		if relErr := d.store.ReleaseTask(relCtx, task.ID); relErr != nil {
			d.logger.Error("failed to release task after dispatch failure",
				"task", task.TaskKey, "error", relErr)
		}
		return errors.ErrDispatchFailed(task.ID).WithCause(err)
	}
	return nil
}
