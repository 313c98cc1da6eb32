package scheduler

import (
	"testing"

	"github.com/forgelabs/forge/internal/db"
)

func pendingTask(key string, deps ...string) *db.AgentTask {
	return &db.AgentTask{
		ID:        "id-" + key,
		TaskKey:   key,
		Status:    db.StatusPending,
		AgentName: "backend",
		Priority:  3,
		DependsOn: deps,
	}
}

func keys(tasks []*db.AgentTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.TaskKey
	}
	return out
}

func TestComputeReadyNoDependencies(t *testing.T) {
	pending := []*db.AgentTask{pendingTask("T1"), pendingTask("T2")}

	rs := ComputeReady(pending, nil, nil)
	if len(rs.Ready) != 2 || len(rs.Waiting) != 0 || len(rs.Blocked) != 0 {
		t.Errorf("ready/waiting/blocked = %d/%d/%d, want 2/0/0",
			len(rs.Ready), len(rs.Waiting), len(rs.Blocked))
	}
}

func TestComputeReadyWaitsForDependencies(t *testing.T) {
	pending := []*db.AgentTask{
		pendingTask("T1"),
		pendingTask("T2", "T1"),
		pendingTask("T3", "T1", "T2"),
	}

	rs := ComputeReady(pending, nil, nil)
	if got := keys(rs.Ready); len(got) != 1 || got[0] != "T1" {
		t.Errorf("ready = %v, want [T1]", got)
	}
	if got := keys(rs.Waiting); len(got) != 2 {
		t.Errorf("waiting = %v, want [T2 T3]", got)
	}
}

func TestComputeReadyAfterCompletion(t *testing.T) {
	pending := []*db.AgentTask{
		pendingTask("T2", "T1"),
		pendingTask("T3", "T1", "T2"),
	}
	completed := map[string]bool{"T1": true}

	rs := ComputeReady(pending, completed, nil)
	if got := keys(rs.Ready); len(got) != 1 || got[0] != "T2" {
		t.Errorf("ready = %v, want [T2]", got)
	}
	if got := keys(rs.Waiting); len(got) != 1 || got[0] != "T3" {
		t.Errorf("waiting = %v, want [T3]", got)
	}
}

func TestComputeReadyFailedDependencyBlocks(t *testing.T) {
	pending := []*db.AgentTask{
		pendingTask("T2", "T1"),
		pendingTask("T3", "T2"),
		pendingTask("T4"),
	}
	failed := map[string]bool{"T1": true}

	rs := ComputeReady(pending, nil, failed)
	if got := keys(rs.Ready); len(got) != 1 || got[0] != "T4" {
		t.Errorf("ready = %v, want [T4]", got)
	}
	if len(rs.Blocked) != 2 {
		t.Fatalf("blocked = %d tasks, want 2", len(rs.Blocked))
	}

	// Both T2 and its transitive dependent T3 trace back to T1.
	for _, b := range rs.Blocked {
		if len(b.FailedDeps) != 1 || b.FailedDeps[0] != "T1" {
			t.Errorf("blocked %s failed deps = %v, want [T1]", b.Task.TaskKey, b.FailedDeps)
		}
	}
}

func TestComputeReadyMixedFailedAndCompleted(t *testing.T) {
	pending := []*db.AgentTask{
		pendingTask("T3", "T1", "T2"),
	}
	completed := map[string]bool{"T1": true}
	failed := map[string]bool{"T2": true}

	rs := ComputeReady(pending, completed, failed)
	if len(rs.Blocked) != 1 {
		t.Fatalf("blocked = %d, want 1", len(rs.Blocked))
	}
	if b := rs.Blocked[0]; b.FailedDeps[0] != "T2" {
		t.Errorf("failed deps = %v, want [T2]", b.FailedDeps)
	}
}

func TestBuildGraph(t *testing.T) {
	tasks := []*db.AgentTask{
		pendingTask("T1"),
		pendingTask("T2", "T1"),
	}
	g := BuildGraph(tasks)
	if len(g) != 2 {
		t.Fatalf("graph has %d nodes, want 2", len(g))
	}
	if len(g["T2"]) != 1 || g["T2"][0] != "T1" {
		t.Errorf("deps of T2 = %v", g["T2"])
	}
}
