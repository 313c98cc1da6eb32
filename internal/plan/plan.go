// Package plan defines the execution plan produced by the planning phase and
// its validation rules.
package plan

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is stamped into serialized plans so stored plans can be
// migrated when the shape changes.
const SchemaVersion = 1

// Complexity classifies how involved a task is expected to be.
type Complexity string

const (
	ComplexitySimple Complexity = "simple"
	ComplexityMedium Complexity = "medium"
)

// ParseComplexity parses a complexity string, defaulting unknown values to
// medium so a sloppy planning agent never produces an unschedulable task.
func ParseComplexity(s string) Complexity {
	if Complexity(s) == ComplexitySimple {
		return ComplexitySimple
	}
	return ComplexityMedium
}

// Priority bounds: 1 is highest, 5 is lowest.
const (
	PriorityHighest = 1
	PriorityLowest  = 5
)

// AtomicTask is a single unit of work produced by the planning phase.
// Immutable after plan approval except through re-planning.
type AtomicTask struct {
	ID                 string     `json:"id" yaml:"id"`
	Title              string     `json:"title" yaml:"title"`
	Description        string     `json:"description" yaml:"description"`
	Category           string     `json:"category" yaml:"category"`
	Priority           int        `json:"priority" yaml:"priority"`
	Complexity         Complexity `json:"complexity" yaml:"complexity"`
	EstimatedLines     int        `json:"estimated_lines" yaml:"estimated_lines"`
	EstimatedHours     float64    `json:"estimated_hours" yaml:"estimated_hours"`
	Dependencies       []string   `json:"dependencies" yaml:"dependencies"`
	AcceptanceCriteria []string   `json:"acceptance_criteria" yaml:"acceptance_criteria"`

	// AgentName is the executor type that should build this task.
	AgentName string `json:"agent_name" yaml:"agent_name"`
}

// ExecutionPlan is the planning phase's output: the full task breakdown for
// one project.
type ExecutionPlan struct {
	SchemaVersion       int                 `json:"schema_version" yaml:"schema_version"`
	Architecture        string              `json:"architecture" yaml:"architecture"`
	Tasks               []AtomicTask        `json:"tasks" yaml:"tasks"`
	Phases              map[string][]string `json:"phases,omitempty" yaml:"phases,omitempty"`
	TotalEstimatedHours float64             `json:"total_estimated_hours" yaml:"total_estimated_hours"`
	CriticalPath        []string            `json:"critical_path,omitempty" yaml:"critical_path,omitempty"`
}

// Task returns the task with the given id, or nil.
func (p *ExecutionPlan) Task(id string) *AtomicTask {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Marshal serializes the plan with its schema version stamped.
func (p *ExecutionPlan) Marshal() (string, error) {
	p.SchemaVersion = SchemaVersion
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return string(data), nil
}

// Unmarshal deserializes a stored plan.
func Unmarshal(raw string) (*ExecutionPlan, error) {
	var p ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = SchemaVersion
	}
	return &p, nil
}
