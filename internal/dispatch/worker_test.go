package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgelabs/forge/internal/config"
	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/executor"
)

// stubExecutor completes or fails every task it sees.
type stubExecutor struct {
	fail  bool
	calls atomic.Int32
}

func (e *stubExecutor) Execute(ctx context.Context, input executor.TaskInput) (*executor.Result, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, fmt.Errorf("agent failure: wrong output")
	}
	return &executor.Result{Output: "done", CostDollars: 0.1}, nil
}

func startPool(t *testing.T, store *db.DB, exec executor.TaskExecutor, resume ResumeFunc) (*events.MemoryPublisher, func()) {
	t.Helper()

	reg := executor.NewRegistry()
	reg.SetFallback(exec)
	sup := executor.NewSupervisor(reg, nil, nil)

	pub := events.NewMemoryPublisher()
	retryCfg := config.RetryConfig{MaxIterations: 2, GenerationTimeout: config.Duration(time.Minute)}
	pool := NewWorkerPool(store, sup, pub, retryCfg, resume, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	// Wait for the pool to subscribe before any dispatch.
	deadline := time.Now().Add(time.Second)
	for pub.SubscriberCount(events.GlobalProjectID) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stop := func() {
		cancel()
		<-done
		pub.Close()
	}
	return pub, stop
}

func waitForStatus(t *testing.T, store *db.DB, taskID string, want db.TaskStatus) *db.AgentTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("GetTask() error = %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %v", taskID, want)
	return nil
}

func TestWorkerPoolCompletesTask(t *testing.T) {
	store, tasks := setupStore(t)
	claim(t, store, tasks[0], 1)

	var resumed sync.Map
	resume := func(ctx context.Context, projectID string) error {
		resumed.Store(projectID, true)
		return nil
	}

	pub, stop := startPool(t, store, &stubExecutor{}, resume)
	defer stop()

	d := NewDispatcher(store, pub, nil)
	if err := d.Dispatch(context.Background(), tasks[0], 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	task := waitForStatus(t, store, tasks[0].ID, db.StatusCompleted)
	if task.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", task.Iterations)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := resumed.Load("proj-1"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("scheduler was never resumed after completion")
}

func TestWorkerPoolMarksFailureWithRecovery(t *testing.T) {
	store, tasks := setupStore(t)
	claim(t, store, tasks[0], 1)

	exec := &stubExecutor{fail: true}
	pub, stop := startPool(t, store, exec, nil)
	defer stop()

	d := NewDispatcher(store, pub, nil)
	if err := d.Dispatch(context.Background(), tasks[0], 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	task := waitForStatus(t, store, tasks[0].ID, db.StatusFailed)
	if task.Iterations != 2 {
		t.Errorf("iterations = %d, want retry budget of 2 used", task.Iterations)
	}
	if task.Error == "" || task.Recommendation == "" {
		t.Errorf("failed task missing recovery summary: error=%q recommendation=%q",
			task.Error, task.Recommendation)
	}
}

func TestWorkerPoolIgnoresDuplicateDispatch(t *testing.T) {
	store, tasks := setupStore(t)
	claim(t, store, tasks[0], 1)

	exec := &stubExecutor{}
	pub, stop := startPool(t, store, exec, nil)
	defer stop()

	d := NewDispatcher(store, pub, nil)
	if err := d.Dispatch(context.Background(), tasks[0], 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	waitForStatus(t, store, tasks[0].ID, db.StatusCompleted)

	// A duplicate event for a terminal task must not re-run it.
	pub.Publish(events.NewEvent(events.EventTaskDispatched, "proj-1", tasks[0].ID, Payload{TaskID: tasks[0].ID}))
	time.Sleep(100 * time.Millisecond)

	if got := exec.calls.Load(); got != 1 {
		t.Errorf("executor ran %d times after duplicate dispatch, want 1", got)
	}
	task, _ := store.GetTask(context.Background(), tasks[0].ID)
	if task.Status != db.StatusCompleted {
		t.Errorf("task status = %v after duplicate dispatch", task.Status)
	}
}

// shutdownExecutor cancels the worker context mid-task, simulating a pool
// shutdown racing a finishing task.
type shutdownExecutor struct {
	cancel context.CancelFunc
}

func (e *shutdownExecutor) Execute(ctx context.Context, input executor.TaskInput) (*executor.Result, error) {
	e.cancel()
	return &executor.Result{Output: "done"}, nil
}

func TestWorkerPoolFinishesTaskDuringShutdown(t *testing.T) {
	store, tasks := setupStore(t)
	claim(t, store, tasks[0], 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := executor.NewRegistry()
	reg.SetFallback(&shutdownExecutor{cancel: cancel})
	sup := executor.NewSupervisor(reg, nil, nil)

	resumed := false
	resume := func(ctx context.Context, projectID string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		resumed = true
		return nil
	}
	retryCfg := config.RetryConfig{MaxIterations: 2, GenerationTimeout: config.Duration(time.Minute)}
	pool := NewWorkerPool(store, sup, events.NewNopPublisher(), retryCfg, resume, 1, nil)

	// The context is canceled while the task runs; the terminal write and
	// the follow-up resume must still land.
	pool.execute(ctx, tasks[0].ID)

	task, err := store.GetTask(context.Background(), tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Status != db.StatusCompleted {
		t.Errorf("task status = %v after shutdown race, want %v", task.Status, db.StatusCompleted)
	}
	if !resumed {
		t.Error("scheduler was not resumed after the terminal write")
	}
}

func TestWorkerPoolIgnoresUnclaimedTask(t *testing.T) {
	store, tasks := setupStore(t)
	// Task never claimed: still pending.

	exec := &stubExecutor{}
	pub, stop := startPool(t, store, exec, nil)
	defer stop()

	pub.Publish(events.NewEvent(events.EventTaskDispatched, "proj-1", tasks[0].ID, Payload{TaskID: tasks[0].ID}))
	time.Sleep(100 * time.Millisecond)

	if got := exec.calls.Load(); got != 0 {
		t.Errorf("executor ran %d times for unclaimed task, want 0", got)
	}
}
