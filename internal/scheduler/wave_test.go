package scheduler

import (
	"testing"

	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/plan"
)

func readyTask(key, agent string, priority int, complexity plan.Complexity) *db.AgentTask {
	return &db.AgentTask{
		ID:         "id-" + key,
		TaskKey:    key,
		AgentName:  agent,
		Priority:   priority,
		Complexity: complexity,
		Status:     db.StatusPending,
	}
}

func TestBuildWavePerAgentCap(t *testing.T) {
	ready := []*db.AgentTask{
		readyTask("T1", "backend", 1, plan.ComplexityMedium),
		readyTask("T2", "backend", 2, plan.ComplexityMedium),
		readyTask("T3", "backend", 3, plan.ComplexityMedium),
		readyTask("T4", "backend", 4, plan.ComplexityMedium),
		readyTask("T5", "backend", 5, plan.ComplexityMedium),
	}

	w := BuildWave(1, ready, 3, 0)
	if len(w.Tasks) != 3 {
		t.Fatalf("wave has %d tasks with cap 3, want 3", len(w.Tasks))
	}
	got := keys(w.Tasks)
	want := []string{"T1", "T2", "T3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wave order = %v, want %v", got, want)
			break
		}
	}
}

func TestBuildWaveCapPerAgentNotGlobal(t *testing.T) {
	ready := []*db.AgentTask{
		readyTask("T1", "backend", 1, plan.ComplexityMedium),
		readyTask("T2", "backend", 2, plan.ComplexityMedium),
		readyTask("T3", "frontend", 1, plan.ComplexityMedium),
		readyTask("T4", "frontend", 2, plan.ComplexityMedium),
	}

	w := BuildWave(1, ready, 2, 0)
	if len(w.Tasks) != 4 {
		t.Errorf("wave has %d tasks, want 4 (two agents, cap 2 each)", len(w.Tasks))
	}
}

func TestBuildWaveSimpleBeforeMedium(t *testing.T) {
	ready := []*db.AgentTask{
		readyTask("T1", "backend", 1, plan.ComplexityMedium),
		readyTask("T2", "backend", 5, plan.ComplexitySimple),
	}

	w := BuildWave(1, ready, 3, 0)
	if got := keys(w.Tasks); got[0] != "T2" {
		t.Errorf("wave order = %v, want simple task first", got)
	}
}

func TestBuildWaveDeterministicTiebreak(t *testing.T) {
	ready := []*db.AgentTask{
		readyTask("T9", "backend", 3, plan.ComplexityMedium),
		readyTask("T2", "backend", 3, plan.ComplexityMedium),
		readyTask("T5", "backend", 3, plan.ComplexityMedium),
	}

	w := BuildWave(1, ready, 5, 0)
	got := keys(w.Tasks)
	want := []string{"T2", "T5", "T9"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wave order = %v, want %v", got, want)
		}
	}
}

func TestBuildWaveMaxConcurrent(t *testing.T) {
	ready := []*db.AgentTask{
		readyTask("T1", "a", 1, plan.ComplexityMedium),
		readyTask("T2", "b", 1, plan.ComplexityMedium),
		readyTask("T3", "c", 1, plan.ComplexityMedium),
	}

	w := BuildWave(1, ready, 3, 2)
	if len(w.Tasks) != 2 {
		t.Errorf("wave has %d tasks with max concurrency 2, want 2", len(w.Tasks))
	}
}

func TestBuildWaveGroupsByAgent(t *testing.T) {
	ready := []*db.AgentTask{
		readyTask("T1", "backend", 1, plan.ComplexityMedium),
		readyTask("T2", "backend", 2, plan.ComplexityMedium),
		readyTask("T3", "backend", 3, plan.ComplexityMedium),
		readyTask("T4", "frontend", 1, plan.ComplexityMedium),
	}

	w := BuildWave(1, ready, 2, 0)
	if len(w.Assignments) != 2 {
		t.Fatalf("wave has %d agent assignments, want 2", len(w.Assignments))
	}
	backend := keys(w.Assignments["backend"])
	if len(backend) != 2 || backend[0] != "T1" || backend[1] != "T2" {
		t.Errorf("backend assignments = %v, want [T1 T2]", backend)
	}
	frontend := keys(w.Assignments["frontend"])
	if len(frontend) != 1 || frontend[0] != "T4" {
		t.Errorf("frontend assignments = %v, want [T4]", frontend)
	}

	// Every assigned task appears in the flat wave order too.
	if len(w.Tasks) != len(backend)+len(frontend) {
		t.Errorf("wave has %d tasks, assignments hold %d", len(w.Tasks), len(backend)+len(frontend))
	}
}

func TestWaveTaskIDs(t *testing.T) {
	w := Wave{Number: 1, Tasks: []*db.AgentTask{
		readyTask("T1", "a", 1, plan.ComplexitySimple),
		readyTask("T2", "a", 1, plan.ComplexitySimple),
	}}
	ids := w.TaskIDs()
	if len(ids) != 2 || ids[0] != "id-T1" || ids[1] != "id-T2" {
		t.Errorf("TaskIDs() = %v", ids)
	}
}
