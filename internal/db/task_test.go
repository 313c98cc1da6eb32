package db

import (
	"context"
	"testing"

	forgeerrors "github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/plan"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testPlan() *plan.ExecutionPlan {
	return &plan.ExecutionPlan{
		Tasks: []plan.AtomicTask{
			{ID: "T1", Title: "models", Priority: 1, Complexity: plan.ComplexitySimple, AgentName: "backend"},
			{ID: "T2", Title: "api", Priority: 2, Complexity: plan.ComplexityMedium, Dependencies: []string{"T1"}, AgentName: "backend"},
			{ID: "T3", Title: "ui", Priority: 3, Complexity: plan.ComplexityMedium, Dependencies: []string{"T1"}, AgentName: "frontend"},
		},
	}
}

func TestCreateTasks(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	tasks, err := d.CreateTasks(ctx, "proj-1", testPlan())
	if err != nil {
		t.Fatalf("CreateTasks() error = %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("CreateTasks() created %d tasks, want 3", len(tasks))
	}

	got, err := d.GetTaskByKey(ctx, "proj-1", "T2")
	if err != nil {
		t.Fatalf("GetTaskByKey() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("new task status = %v, want %v", got.Status, StatusPending)
	}
	if got.AgentName != "backend" {
		t.Errorf("agent name = %v, want backend", got.AgentName)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "T1" {
		t.Errorf("depends_on = %v, want [T1]", got.DependsOn)
	}
	if got.WaveNumber != nil {
		t.Errorf("new task wave = %v, want nil", *got.WaveNumber)
	}
	if got.Input == "" {
		t.Error("new task input is empty")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	d := testDB(t)

	_, err := d.GetTask(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("GetTask() on missing id returned nil error")
	}
	fe := forgeerrors.AsForgeError(err)
	if fe == nil || fe.Code != forgeerrors.CodeTaskNotFound {
		t.Errorf("GetTask() error = %v, want code %v", err, forgeerrors.CodeTaskNotFound)
	}
}

func TestClaimWave(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	tasks, err := d.CreateTasks(ctx, "proj-1", testPlan())
	if err != nil {
		t.Fatalf("CreateTasks() error = %v", err)
	}

	if err := d.ClaimWave(ctx, "proj-1", []string{tasks[0].ID}, 1); err != nil {
		t.Fatalf("ClaimWave() error = %v", err)
	}

	got, err := d.GetTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("claimed task status = %v, want %v", got.Status, StatusInProgress)
	}
	if got.WaveNumber == nil || *got.WaveNumber != 1 {
		t.Errorf("claimed task wave = %v, want 1", got.WaveNumber)
	}
	if got.StartedAt == nil {
		t.Error("claimed task has no started_at")
	}

	pending, err := d.PendingTasks(ctx, "proj-1")
	if err != nil {
		t.Fatalf("PendingTasks() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending after claim = %d tasks, want 2", len(pending))
	}
}

func TestClaimWaveAllOrNothing(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	tasks, err := d.CreateTasks(ctx, "proj-1", testPlan())
	if err != nil {
		t.Fatalf("CreateTasks() error = %v", err)
	}

	// First claim takes T1 out of pending.
	if err := d.ClaimWave(ctx, "proj-1", []string{tasks[0].ID}, 1); err != nil {
		t.Fatalf("ClaimWave() error = %v", err)
	}

	// A claim including the already-claimed task must fail entirely.
	err = d.ClaimWave(ctx, "proj-1", []string{tasks[1].ID, tasks[0].ID}, 2)
	if err == nil {
		t.Fatal("ClaimWave() with a non-pending task returned nil error")
	}
	fe := forgeerrors.AsForgeError(err)
	if fe == nil || fe.Code != forgeerrors.CodeWaveClaimLost {
		t.Errorf("ClaimWave() error = %v, want code %v", err, forgeerrors.CodeWaveClaimLost)
	}

	// The losing claim must not have touched the other task.
	got, err := d.GetTask(ctx, tasks[1].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("task after lost claim status = %v, want %v", got.Status, StatusPending)
	}
	if got.WaveNumber != nil {
		t.Errorf("task after lost claim wave = %v, want nil", *got.WaveNumber)
	}
}

func TestReleaseTask(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	tasks, err := d.CreateTasks(ctx, "proj-1", testPlan())
	if err != nil {
		t.Fatalf("CreateTasks() error = %v", err)
	}
	if err := d.ClaimWave(ctx, "proj-1", []string{tasks[0].ID}, 1); err != nil {
		t.Fatalf("ClaimWave() error = %v", err)
	}

	if err := d.ReleaseTask(ctx, tasks[0].ID); err != nil {
		t.Fatalf("ReleaseTask() error = %v", err)
	}

	got, err := d.GetTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("released task status = %v, want %v", got.Status, StatusPending)
	}
	if got.WaveNumber != nil {
		t.Errorf("released task wave = %v, want nil", *got.WaveNumber)
	}
	if got.StartedAt != nil {
		t.Error("released task still has started_at")
	}

	// Releasing a pending task is an invalid transition.
	if err := d.ReleaseTask(ctx, tasks[0].ID); err == nil {
		t.Error("ReleaseTask() on pending task returned nil error")
	}
}

func TestMarkCompletedAndFailed(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	tasks, err := d.CreateTasks(ctx, "proj-1", testPlan())
	if err != nil {
		t.Fatalf("CreateTasks() error = %v", err)
	}
	ids := []string{tasks[0].ID, tasks[1].ID}
	if err := d.ClaimWave(ctx, "proj-1", ids, 1); err != nil {
		t.Fatalf("ClaimWave() error = %v", err)
	}

	if err := d.MarkCompleted(ctx, tasks[0].ID, 2); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if err := d.MarkFailed(ctx, tasks[1].ID, "compile error", 3, "split the task"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	done, err := d.GetTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if done.Status != StatusCompleted || done.Iterations != 2 {
		t.Errorf("completed task = %v/%d iterations, want completed/2", done.Status, done.Iterations)
	}
	if done.CompletedAt == nil {
		t.Error("completed task has no completed_at")
	}

	failed, err := d.GetTask(ctx, tasks[1].ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("failed task status = %v, want %v", failed.Status, StatusFailed)
	}
	if failed.Error != "compile error" || failed.Recommendation != "split the task" {
		t.Errorf("failed task error/recommendation = %q/%q", failed.Error, failed.Recommendation)
	}

	// Terminal tasks cannot be marked again.
	if err := d.MarkCompleted(ctx, tasks[0].ID, 1); err == nil {
		t.Error("MarkCompleted() on terminal task returned nil error")
	}

	keys, err := d.FailedTaskKeys(ctx, "proj-1")
	if err != nil {
		t.Fatalf("FailedTaskKeys() error = %v", err)
	}
	if len(keys) != 1 || !keys["T2"] {
		t.Errorf("FailedTaskKeys() = %v, want map[T2:true]", keys)
	}

	completed, err := d.CompletedTaskKeys(ctx, "proj-1")
	if err != nil {
		t.Fatalf("CompletedTaskKeys() error = %v", err)
	}
	if len(completed) != 1 || !completed["T1"] {
		t.Errorf("CompletedTaskKeys() = %v, want map[T1:true]", completed)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusInProgress.IsTerminal() {
		t.Error("pending/in_progress reported terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed/failed not reported terminal")
	}
}
