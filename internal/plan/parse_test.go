package plan

import "testing"

const fencedOutput = "Here is the plan you asked for:\n\n```json\n" + `{
  "architecture": "monolith",
  "total_estimated_hours": 6.5,
  "tasks": [
    {
      "id": "T1",
      "title": "Scaffold project",
      "category": "setup",
      "priority": 1,
      "complexity": "simple",
      "estimated_lines": 120,
      "estimated_hours": 1.5,
      "agent_name": "backend",
      "dependencies": [],
      "acceptance_criteria": ["repo builds"]
    },
    {
      "id": "T2",
      "title": "Add API",
      "priority": 2,
      "complexity": "medium",
      "agent_name": "backend",
      "dependencies": ["T1"]
    }
  ],
  "phases": {"foundation": ["T1"], "features": ["T2"]},
  "critical_path": ["T1", "T2"]
}` + "\n```\n\nLet me know if you want changes."

func TestParseAgentOutputFenced(t *testing.T) {
	p, err := ParseAgentOutput(fencedOutput)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Architecture != "monolith" {
		t.Errorf("architecture = %q", p.Architecture)
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(p.Tasks))
	}
	if p.Tasks[0].Complexity != ComplexitySimple || p.Tasks[1].Complexity != ComplexityMedium {
		t.Errorf("complexity parsing wrong: %+v", p.Tasks)
	}
	if p.Tasks[1].Dependencies[0] != "T1" {
		t.Errorf("dependencies not parsed: %+v", p.Tasks[1])
	}
	if len(p.Phases["foundation"]) != 1 || p.Phases["foundation"][0] != "T1" {
		t.Errorf("phases not parsed: %+v", p.Phases)
	}
	if len(p.CriticalPath) != 2 {
		t.Errorf("critical path not parsed: %+v", p.CriticalPath)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("parsed plan should validate: %v", err)
	}
}

func TestParseAgentOutputBareJSON(t *testing.T) {
	p, err := ParseAgentOutput(`{"tasks": [{"id": "T1", "title": "x", "complexity": "simple"}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Tasks) != 1 || p.Tasks[0].ID != "T1" {
		t.Errorf("tasks = %+v", p.Tasks)
	}
	// Missing priority defaults to the middle of the range.
	if p.Tasks[0].Priority != 3 {
		t.Errorf("default priority = %d, want 3", p.Tasks[0].Priority)
	}
}

func TestParseAgentOutputDefaultsComplexity(t *testing.T) {
	p, err := ParseAgentOutput(`{"tasks": [{"id": "T1", "complexity": "enormous"}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Tasks[0].Complexity != ComplexityMedium {
		t.Errorf("unknown complexity should default to medium, got %s", p.Tasks[0].Complexity)
	}
}

func TestParseAgentOutputSumsHours(t *testing.T) {
	p, err := ParseAgentOutput(`{"tasks": [
		{"id": "T1", "estimated_hours": 2},
		{"id": "T2", "estimated_hours": 3.5}
	]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.TotalEstimatedHours != 5.5 {
		t.Errorf("total hours = %v, want 5.5", p.TotalEstimatedHours)
	}
}

func TestParseAgentOutputNoJSON(t *testing.T) {
	if _, err := ParseAgentOutput("I could not produce a plan, sorry."); err == nil {
		t.Fatal("expected error for output without JSON")
	}
}

func TestParseAgentOutputNoTasksArray(t *testing.T) {
	if _, err := ParseAgentOutput(`{"architecture": "x"}`); err == nil {
		t.Fatal("expected error for missing tasks array")
	}
}
