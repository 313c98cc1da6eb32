package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forgelabs/forge/internal/errors"
)

// Validate checks plan invariants before persistence:
//   - every task id is unique and non-empty
//   - every dependency references an existing task id in the same plan
//   - the dependency graph is acyclic
//   - priority and complexity values are within bounds
//
// A dangling reference or a cycle is fatal; the returned error names an
// offending task so the reviewer can act on it.
func (p *ExecutionPlan) Validate() error {
	if len(p.Tasks) == 0 {
		return errors.ErrPlanValidation("(none)", "plan contains no tasks")
	}

	byID := make(map[string]*AtomicTask, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID == "" {
			return errors.ErrPlanValidation("(empty)", fmt.Sprintf("task %d has no id", i))
		}
		if _, dup := byID[t.ID]; dup {
			return errors.ErrPlanValidation(t.ID, "duplicate task id")
		}
		if t.Priority < PriorityHighest || t.Priority > PriorityLowest {
			return errors.ErrPlanValidation(t.ID,
				fmt.Sprintf("priority %d out of range [%d,%d]", t.Priority, PriorityHighest, PriorityLowest))
		}
		if t.Complexity != ComplexitySimple && t.Complexity != ComplexityMedium {
			return errors.ErrPlanValidation(t.ID, fmt.Sprintf("unknown complexity %q", t.Complexity))
		}
		byID[t.ID] = t
	}

	// Dangling references
	for i := range p.Tasks {
		t := &p.Tasks[i]
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return errors.ErrPlanValidation(t.ID, "task depends on itself")
			}
			if _, ok := byID[dep]; !ok {
				return errors.ErrPlanValidation(t.ID,
					fmt.Sprintf("dependency %q does not reference a task in this plan", dep))
			}
		}
	}

	// Cycle detection via Kahn's algorithm: if the topological order doesn't
	// cover every task, the leftovers form a cycle.
	if cycle := findCycle(p.Tasks); len(cycle) > 0 {
		return errors.ErrPlanValidation(cycle[0],
			fmt.Sprintf("dependency cycle involving tasks: %s", strings.Join(cycle, ", ")))
	}

	return nil
}

// findCycle returns the sorted ids of tasks involved in a dependency cycle,
// or nil when the graph is acyclic.
func findCycle(tasks []AtomicTask) []string {
	// adjacency: dependency -> tasks that depend on it
	adjacency := make(map[string][]string, len(tasks))
	inDegree := make(map[string]int, len(tasks))

	for i := range tasks {
		inDegree[tasks[i].ID] = 0
	}
	for i := range tasks {
		t := &tasks[i]
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			adjacency[dep] = append(adjacency[dep], t.ID)
			inDegree[t.ID]++
		}
	}

	queue := make([]string, 0, len(tasks))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range adjacency[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed == len(tasks) {
		return nil
	}

	var cycle []string
	for id, deg := range inDegree {
		if deg > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return cycle
}
