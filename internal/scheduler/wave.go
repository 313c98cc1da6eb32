package scheduler

import (
	"sort"

	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/plan"
)

// Wave is one batch of tasks claimed and dispatched together. Assignments
// groups the wave's tasks by agent, preserving the wave order within each
// agent; no agent holds more than the per-agent cap.
type Wave struct {
	Number      int
	Tasks       []*db.AgentTask
	Assignments map[string][]*db.AgentTask
}

// TaskIDs returns the global ids of the wave's tasks.
func (w Wave) TaskIDs() []string {
	ids := make([]string, len(w.Tasks))
	for i, t := range w.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// BuildWave selects tasks for the next wave from the ready set. Simple
// tasks run before medium ones, higher priority first, with the task key
// as the deterministic tiebreak. Each agent gets at most perAgentCap slots;
// maxConcurrent bounds the wave overall (0 means unbounded).
func BuildWave(number int, ready []*db.AgentTask, perAgentCap, maxConcurrent int) Wave {
	ordered := make([]*db.AgentTask, len(ready))
	copy(ordered, ready)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if (a.Complexity == plan.ComplexitySimple) != (b.Complexity == plan.ComplexitySimple) {
			return a.Complexity == plan.ComplexitySimple
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.TaskKey < b.TaskKey
	})

	if perAgentCap < 1 {
		perAgentCap = 1
	}

	w := Wave{Number: number, Assignments: make(map[string][]*db.AgentTask)}
	for _, t := range ordered {
		if maxConcurrent > 0 && len(w.Tasks) >= maxConcurrent {
			break
		}
		if len(w.Assignments[t.AgentName]) >= perAgentCap {
			continue
		}
		w.Assignments[t.AgentName] = append(w.Assignments[t.AgentName], t)
		w.Tasks = append(w.Tasks, t)
	}
	return w
}
