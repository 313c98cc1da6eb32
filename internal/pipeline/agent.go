// Package pipeline runs a project through its pre-execution phases and
// gates the handoff to wave execution on human plan approval.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/plan"
	"github.com/forgelabs/forge/internal/project"
)

// PhaseAgent produces one phase's contribution to the project context.
// Run mutates p in place; the pipeline persists it afterwards.
type PhaseAgent interface {
	Phase() project.Phase
	Run(ctx context.Context, p *project.Context) error
}

// ExecAgent is a command-backed phase agent. The project context goes to
// the command's stdin as JSON with the phase name as the first argument;
// the command answers with a JSON patch:
//
//	{"blueprint_parsed":{...},"tech_stack":["go"],"architecture":"...","plan":{...}}
//
// Unknown fields are ignored; absent fields leave the context untouched.
type ExecAgent struct {
	phase   project.Phase
	command string
	args    []string
}

// NewExecAgent creates a command-backed agent for a phase.
func NewExecAgent(phase project.Phase, command string, args ...string) *ExecAgent {
	return &ExecAgent{phase: phase, command: command, args: args}
}

// Phase returns the phase this agent serves.
func (a *ExecAgent) Phase() project.Phase {
	return a.phase
}

// Run invokes the agent command and applies its patch to the context.
func (a *ExecAgent) Run(ctx context.Context, p *project.Context) error {
	input, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project context: %w", err)
	}

	args := append([]string{string(a.phase)}, a.args...)
	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s agent: %s", a.phase, msg)
	}

	return applyPatch(p, stdout.Bytes())
}

// applyPatch merges an agent's JSON answer into the project context.
func applyPatch(p *project.Context, out []byte) error {
	raw := plan.ExtractJSON(string(out))
	if raw == "" || !gjson.Valid(raw) {
		return errors.ErrExecutorFatal(p.ProjectID,
			fmt.Sprintf("phase agent produced invalid JSON: %.120s", string(out)))
	}
	parsed := gjson.Parse(raw)

	if v := parsed.Get("blueprint_parsed"); v.IsObject() {
		var m map[string]any
		if err := json.Unmarshal([]byte(v.Raw), &m); err == nil {
			if p.BlueprintParsed == nil {
				p.BlueprintParsed = m
			} else {
				for k, val := range m {
					p.BlueprintParsed[k] = val
				}
			}
		}
	}
	if v := parsed.Get("tech_stack"); v.IsArray() {
		p.TechStack = nil
		v.ForEach(func(_, item gjson.Result) bool {
			p.TechStack = append(p.TechStack, item.String())
			return true
		})
	}
	if v := parsed.Get("architecture"); v.Exists() {
		p.Architecture = v.String()
	}
	if v := parsed.Get("plan"); v.IsObject() {
		p.PlanJSON = v.Raw
	}
	return nil
}
