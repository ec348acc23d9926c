// Package delegate exposes the tool that hands a task to another agent on
// a forked thread and returns its final answer.
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/coday/internal/tools"
)

// Integration is the allow-list group name for delegation.
const Integration = "delegate"

// MaxStackDepth bounds nested delegation. A delegated run at the limit
// loses the delegate tool entirely rather than failing at call time.
const MaxStackDepth = 3

// AgentInfo describes a delegation target to the calling model.
type AgentInfo struct {
	Name        string
	Description string
}

// Runner executes a delegated task. The session layer implements it:
// fork the thread, run the named agent to completion, merge the summary
// back, and return the child's final text.
type Runner interface {
	RunDelegated(ctx context.Context, agentName, task string) (string, error)

	// DelegationTargets lists the agents the current agent may delegate to.
	DelegationTargets() []AgentInfo
}

// Source builds the delegate tool for one run level.
type Source struct {
	runner Runner
	depth  int
}

// NewSource creates a delegate source. depth is the current delegation
// stack depth; at MaxStackDepth the source yields no tools.
func NewSource(runner Runner, depth int) *Source {
	return &Source{runner: runner, depth: depth}
}

// Integration implements tools.Source.
func (s *Source) Integration() string { return Integration }

// Tools implements tools.Source.
func (s *Source) Tools(ctx context.Context) ([]tools.Tool, error) {
	if s.depth >= MaxStackDepth {
		return nil, nil
	}
	targets := s.runner.DelegationTargets()
	if len(targets) == 0 {
		return nil, nil
	}

	var desc strings.Builder
	desc.WriteString("Delegate a task to another agent and wait for its answer. Available agents:\n")
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
		fmt.Fprintf(&desc, "- %s: %s\n", t.Name, t.Description)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentName": map[string]any{
				"type":        "string",
				"enum":        names,
				"description": "Target agent. Omitted, the project's default agent takes the task.",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "Complete, self-contained task description. The agent sees the conversation so far plus this task.",
			},
		},
		"required": []string{"task"},
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	return []tools.Tool{
		&tools.Func{
			Def: tools.Definition{
				Name:        "delegate",
				Description: strings.TrimRight(desc.String(), "\n"),
				Schema:      schemaJSON,
				// Delegated runs routinely outlive the per-tool default.
				Timeout: 30 * time.Minute,
			},
			Fn: s.run,
		},
	}, nil
}

func (s *Source) run(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentName string `json:"agentName"`
		Task      string `json:"task"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	answer, err := s.runner.RunDelegated(ctx, in.AgentName, in.Task)
	if err != nil {
		target := in.AgentName
		if target == "" {
			target = "default agent"
		}
		return nil, fmt.Errorf("delegation to %s failed: %w", target, err)
	}
	return answer, nil
}
