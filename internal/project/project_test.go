package project

import "testing"

func TestParsePhase(t *testing.T) {
	for _, p := range []string{"analysis", "research", "validation", "planning",
		"plan_review", "wave_execution", "quality_check", "complete", "failed"} {
		if _, err := ParsePhase(p); err != nil {
			t.Errorf("ParsePhase(%q) unexpected error: %v", p, err)
		}
	}
	if _, err := ParsePhase("deploying"); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestPipelineIndex(t *testing.T) {
	if got := PipelineIndex(PhaseAnalysis); got != 0 {
		t.Errorf("PipelineIndex(analysis) = %d, want 0", got)
	}
	if got := PipelineIndex(PhasePlanning); got != 3 {
		t.Errorf("PipelineIndex(planning) = %d, want 3", got)
	}
	if got := PipelineIndex(PhaseWaveExecution); got != -1 {
		t.Errorf("PipelineIndex(wave_execution) = %d, want -1", got)
	}
}

func TestIsTerminal(t *testing.T) {
	if !PhaseComplete.IsTerminal() || !PhaseFailed.IsTerminal() {
		t.Error("expected complete and failed to be terminal")
	}
	if PhasePlanReview.IsTerminal() {
		t.Error("plan_review is not terminal for the project, only for the pipeline")
	}
}

func TestContextValidate(t *testing.T) {
	c := New("P-1", "U-1", "build a todo app")
	if err := c.Validate(); err != nil {
		t.Fatalf("valid context rejected: %v", err)
	}

	c.ProjectID = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing project_id")
	}

	c = New("P-1", "U-1", "bp")
	c.CurrentPhase = "bogus"
	if err := c.Validate(); err == nil {
		t.Error("expected error for bogus phase")
	}

	c = New("P-1", "U-1", "bp")
	c.Version = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for version 0")
	}
}
