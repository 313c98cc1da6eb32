// Package scheduler turns an approved plan's task graph into waves of
// executable work. It owns readiness (which tasks can run now) and project
// drain (what happens when nothing is left to run).
package scheduler

import (
	"sort"

	"github.com/forgelabs/forge/internal/db"
)

// Graph maps each task key to its dependency keys.
type Graph map[string][]string

// BuildGraph derives the dependency graph from persisted tasks.
func BuildGraph(tasks []*db.AgentTask) Graph {
	g := make(Graph, len(tasks))
	for _, t := range tasks {
		g[t.TaskKey] = t.DependsOn
	}
	return g
}

// BlockedTask is a pending task that can never run because a dependency
// failed, directly or transitively.
type BlockedTask struct {
	Task *db.AgentTask
	// FailedDeps names the failed tasks this one ultimately depends on.
	FailedDeps []string
}

// ReadySet is the scheduler's view of what can run right now.
type ReadySet struct {
	// Ready tasks have every dependency completed.
	Ready []*db.AgentTask
	// Waiting tasks have incomplete dependencies that may still finish.
	Waiting []*db.AgentTask
	// Blocked tasks depend on a failed task and will never become ready.
	Blocked []BlockedTask
}

// ComputeReady partitions the pending tasks by dependency state. completed
// and failed are keyed by task key. Failure poisons transitively: a task
// waiting on a blocked task is itself blocked.
func ComputeReady(pending []*db.AgentTask, completed, failed map[string]bool) ReadySet {
	graph := BuildGraph(pending)

	// Propagate failure through the pending subgraph.
	doomed := make(map[string][]string)
	var poison func(key string, seen map[string]bool) []string
	poison = func(key string, seen map[string]bool) []string {
		if roots, ok := doomed[key]; ok {
			return roots
		}
		if seen[key] {
			return nil
		}
		seen[key] = true

		var roots []string
		for _, dep := range graph[key] {
			if failed[dep] {
				roots = append(roots, dep)
				continue
			}
			roots = append(roots, poison(dep, seen)...)
		}
		roots = dedupeSorted(roots)
		doomed[key] = roots
		return roots
	}

	var rs ReadySet
	for _, t := range pending {
		if roots := poison(t.TaskKey, make(map[string]bool)); len(roots) > 0 {
			rs.Blocked = append(rs.Blocked, BlockedTask{Task: t, FailedDeps: roots})
			continue
		}

		ready := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			rs.Ready = append(rs.Ready, t)
		} else {
			rs.Waiting = append(rs.Waiting, t)
		}
	}
	return rs
}

func dedupeSorted(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
