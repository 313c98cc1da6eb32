package plan

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseAgentOutput extracts an ExecutionPlan from raw planning-agent output.
// Agents wrap JSON in markdown fences or prose more often than not, so the
// parser hunts for the first JSON object containing a tasks array rather than
// requiring clean output.
func ParseAgentOutput(raw string) (*ExecutionPlan, error) {
	payload := ExtractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("planning output contains no JSON object")
	}

	root := gjson.Parse(payload)
	tasksVal := root.Get("tasks")
	if !tasksVal.IsArray() {
		return nil, fmt.Errorf("planning output has no tasks array")
	}

	p := &ExecutionPlan{
		SchemaVersion:       SchemaVersion,
		Architecture:        root.Get("architecture").String(),
		TotalEstimatedHours: root.Get("total_estimated_hours").Float(),
	}

	tasksVal.ForEach(func(_, v gjson.Result) bool {
		t := AtomicTask{
			ID:             v.Get("id").String(),
			Title:          v.Get("title").String(),
			Description:    v.Get("description").String(),
			Category:       v.Get("category").String(),
			Priority:       int(v.Get("priority").Int()),
			Complexity:     ParseComplexity(v.Get("complexity").String()),
			EstimatedLines: int(v.Get("estimated_lines").Int()),
			EstimatedHours: v.Get("estimated_hours").Float(),
			AgentName:      v.Get("agent_name").String(),
		}
		if t.Priority == 0 {
			t.Priority = 3
		}
		for _, d := range v.Get("dependencies").Array() {
			t.Dependencies = append(t.Dependencies, d.String())
		}
		for _, a := range v.Get("acceptance_criteria").Array() {
			t.AcceptanceCriteria = append(t.AcceptanceCriteria, a.String())
		}
		p.Tasks = append(p.Tasks, t)
		return true
	})

	if phases := root.Get("phases"); phases.IsObject() {
		p.Phases = make(map[string][]string)
		phases.ForEach(func(name, ids gjson.Result) bool {
			for _, id := range ids.Array() {
				p.Phases[name.String()] = append(p.Phases[name.String()], id.String())
			}
			return true
		})
	}
	for _, id := range root.Get("critical_path").Array() {
		p.CriticalPath = append(p.CriticalPath, id.String())
	}

	if p.TotalEstimatedHours == 0 {
		for _, t := range p.Tasks {
			p.TotalEstimatedHours += t.EstimatedHours
		}
	}

	return p, nil
}

// ExtractJSON returns the outermost JSON object in raw, tolerating markdown
// code fences and surrounding prose.
func ExtractJSON(raw string) string {
	s := raw
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}
