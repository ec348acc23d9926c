package session

import (
	"context"
	"fmt"

	"github.com/haasonsaas/coday/internal/agent"
	"github.com/haasonsaas/coday/internal/tools/delegate"
	"github.com/haasonsaas/coday/pkg/models"
)

// depthRefusal is returned to the model as the delegate tool's result
// when the session's delegation budget is spent. Not an error: the model
// should handle the task itself.
const depthRefusal = "Delegation budget exhausted; handle the task yourself."

// RunDelegated implements delegate.Runner: fork the current thread for
// the target agent, run it to completion on the fork, and return its
// final text. The fork isolates the child from later parent chatter; the
// parent sees the answer as the delegate tool's response.
func (s *Session) RunDelegated(ctx context.Context, agentName, task string) (string, error) {
	s.mu.Lock()
	if s.stackDepth <= 0 {
		s.mu.Unlock()
		return depthRefusal, nil
	}
	s.stackDepth--
	env, th := s.env, s.th
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stackDepth++
		s.mu.Unlock()
	}()

	if env == nil || th == nil {
		return "", ErrNoProject
	}

	var child *agent.Agent
	var err error
	if agentName == "" {
		// No target named: the project default takes the task.
		var name string
		if name, err = env.registry.DefaultName(); err == nil {
			child, err = env.registry.Get(ctx, name)
		}
	} else {
		child, err = env.registry.FindByPrefix(ctx, agentName)
	}
	if err != nil {
		return "", err
	}

	fork, err := th.Fork(child.Name())
	if err != nil {
		return "", fmt.Errorf("fork thread for %s: %w", child.Name(), err)
	}
	if _, err := fork.Append(models.ThreadEntry{
		Kind:    models.EntryUser,
		Speaker: "delegate",
		Content: models.TextContent(task),
	}); err != nil {
		return "", err
	}

	s.logger.Info("delegating",
		"session", s.id, "agent", child.Name(), "fork_id", fork.ID())

	loop := agent.NewLoop(s.bus,
		agent.WithLogger(s.logger),
		agent.WithSpeakerPrefix("-> "),
	)
	answer, err := loop.Run(ctx, child, fork)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("-> %s\n%s", child.Name(), answer), nil
}

// DelegationTargets implements delegate.Runner.
func (s *Session) DelegationTargets() []delegate.AgentInfo {
	s.mu.Lock()
	env := s.env
	s.mu.Unlock()
	if env == nil {
		return nil
	}
	defs, err := env.registry.Descriptions()
	if err != nil {
		s.logger.Warn("delegation targets unavailable", "error", err)
		return nil
	}
	out := make([]delegate.AgentInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, delegate.AgentInfo{
			Name:        def.Name,
			Description: def.Description,
		})
	}
	return out
}
