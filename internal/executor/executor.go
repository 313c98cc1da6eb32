// Package executor runs agent tasks and supervises their retries. The
// supervisor owns the retry budget; executors only know how to run a single
// attempt.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/forgelabs/forge/internal/errors"
)

// TaskInput is everything an executor gets for one attempt.
type TaskInput struct {
	TaskID      string   `json:"task_id"`
	ProjectID   string   `json:"project_id"`
	TaskKey     string   `json:"task_key"`
	AgentName   string   `json:"agent_name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Criteria    []string `json:"acceptance_criteria,omitempty"`

	// RecallContext summarizes similar past tasks; PriorErrors carries the
	// failures of earlier attempts so the agent can course-correct.
	RecallContext string   `json:"recall_context,omitempty"`
	PriorErrors   []string `json:"prior_errors,omitempty"`
	Attempt       int      `json:"attempt"`
}

// Result is a successful attempt's output.
type Result struct {
	Output      string            `json:"output"`
	Files       map[string]string `json:"files,omitempty"`
	CostDollars float64           `json:"cost_dollars"`
}

// TaskExecutor runs a single attempt of a task. Implementations must honor
// ctx cancellation.
type TaskExecutor interface {
	Execute(ctx context.Context, input TaskInput) (*Result, error)
}

// Registry maps agent names to executors with an optional fallback.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]TaskExecutor
	fallback  TaskExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]TaskExecutor)}
}

// Register binds an executor to an agent name.
func (r *Registry) Register(agentName string, e TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[agentName] = e
}

// SetFallback sets the executor used for unregistered agent names.
func (r *Registry) SetFallback(e TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// Lookup returns the executor for an agent name.
func (r *Registry) Lookup(agentName string) (TaskExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[agentName]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errors.ErrConfigMissing(fmt.Sprintf("agents.%s", agentName))
}

// CommandExecutor runs an external agent command. The input is written as
// JSON to stdin; the command reports back as JSON on stdout:
//
//	{"status":"completed","output":"...","cost_dollars":0.12}
//	{"status":"failed","error":"...","transient":true}
type CommandExecutor struct {
	command string
	args    []string
}

// NewCommandExecutor creates an executor that shells out to the given
// command.
func NewCommandExecutor(command string, args ...string) *CommandExecutor {
	return &CommandExecutor{command: command, args: args}
}

// Execute runs one attempt via the external command.
func (e *CommandExecutor) Execute(ctx context.Context, input TaskInput) (*Result, error) {
	payload, err := marshalInput(input)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.ErrExecutorTransient(input.TaskID, msg)
	}

	return parseAgentResult(input.TaskID, stdout.Bytes())
}

func marshalInput(input TaskInput) ([]byte, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}
	return payload, nil
}

// parseAgentResult interprets the agent's stdout JSON.
func parseAgentResult(taskID string, out []byte) (*Result, error) {
	if !gjson.ValidBytes(out) {
		return nil, errors.ErrExecutorFatal(taskID,
			fmt.Sprintf("agent produced invalid JSON: %.120s", string(out)))
	}

	parsed := gjson.ParseBytes(out)
	status := parsed.Get("status").String()

	switch status {
	case "completed":
		return &Result{
			Output:      parsed.Get("output").String(),
			CostDollars: parsed.Get("cost_dollars").Float(),
			Files:       parseFiles(parsed),
		}, nil
	case "failed":
		msg := parsed.Get("error").String()
		if msg == "" {
			msg = "agent reported failure without detail"
		}
		// Failed attempts still cost money and may leave partial files
		// behind; surface both for budget tracking and enrichment.
		partial := &Result{
			CostDollars: parsed.Get("cost_dollars").Float(),
			Files:       parseFiles(parsed),
		}
		if parsed.Get("transient").Bool() {
			return partial, errors.ErrExecutorTransient(taskID, msg)
		}
		return partial, fmt.Errorf("agent failure: %s", msg)
	default:
		return nil, errors.ErrExecutorFatal(taskID,
			fmt.Sprintf("agent reported unknown status %q", status))
	}
}

func parseFiles(parsed gjson.Result) map[string]string {
	files := parsed.Get("files")
	if !files.IsObject() {
		return nil
	}
	m := make(map[string]string)
	files.ForEach(func(k, v gjson.Result) bool {
		m[k.String()] = v.String()
		return true
	})
	return m
}
