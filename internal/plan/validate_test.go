package plan

import (
	"strings"
	"testing"

	"github.com/forgelabs/forge/internal/errors"
)

func makeTask(id string, deps ...string) AtomicTask {
	return AtomicTask{
		ID:         id,
		Title:      "Task " + id,
		Priority:   3,
		Complexity: ComplexitySimple,
		Dependencies: func() []string {
			if len(deps) == 0 {
				return nil
			}
			return deps
		}(),
	}
}

func TestValidateAcceptsAcyclicPlan(t *testing.T) {
	p := &ExecutionPlan{Tasks: []AtomicTask{
		makeTask("T1"),
		makeTask("T2", "T1"),
		makeTask("T3", "T1", "T2"),
	}}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	p := &ExecutionPlan{Tasks: []AtomicTask{
		makeTask("T1", "T2"),
		makeTask("T2", "T1"),
	}}
	err := p.Validate()
	if err == nil {
		t.Fatal("expected cycle to be rejected")
	}
	fe := errors.AsForgeError(err)
	if fe == nil || fe.Code != errors.CodePlanValidation {
		t.Fatalf("expected PLAN_VALIDATION_FAILED, got %v", err)
	}
	// The error must name one of the tasks in the cycle.
	if !strings.Contains(fe.What, "T1") && !strings.Contains(fe.What, "T2") {
		t.Errorf("error does not name a cycle member: %s", fe.What)
	}
}

func TestValidateRejectsDanglingDependency(t *testing.T) {
	p := &ExecutionPlan{Tasks: []AtomicTask{
		makeTask("T1", "T9"),
	}}
	err := p.Validate()
	if err == nil {
		t.Fatal("expected dangling dependency to be rejected")
	}
	if !strings.Contains(err.Error(), "T1") || !strings.Contains(err.Error(), "T9") {
		t.Errorf("error should name the task and the missing dependency: %v", err)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	p := &ExecutionPlan{Tasks: []AtomicTask{makeTask("T1", "T1")}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected self dependency to be rejected")
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	p := &ExecutionPlan{Tasks: []AtomicTask{makeTask("T1"), makeTask("T1")}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected duplicate ids to be rejected")
	}
}

func TestValidateRejectsOutOfRangePriority(t *testing.T) {
	task := makeTask("T1")
	task.Priority = 9
	p := &ExecutionPlan{Tasks: []AtomicTask{task}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected priority 9 to be rejected")
	}
}

func TestValidateRejectsEmptyPlan(t *testing.T) {
	p := &ExecutionPlan{}
	if err := p.Validate(); err == nil {
		t.Fatal("expected empty plan to be rejected")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	p := &ExecutionPlan{
		Architecture: "three-tier web app",
		Tasks:        []AtomicTask{makeTask("T1"), makeTask("T2", "T1")},
	}
	raw, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, want %d", got.SchemaVersion, SchemaVersion)
	}
	if len(got.Tasks) != 2 || got.Tasks[1].Dependencies[0] != "T1" {
		t.Errorf("round trip lost task data: %+v", got.Tasks)
	}
}
