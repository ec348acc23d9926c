// Package config loads project (coday.yaml) and user (user.yml)
// configuration, with $include resolution and environment expansion.
package config

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/coday/internal/mcp"
	"github.com/haasonsaas/coday/pkg/models"
)

// ProjectConfig is the per-project coday.yaml.
type ProjectConfig struct {
	// Description is injected into every agent's system prompt.
	Description string `yaml:"description,omitempty"`

	// DefaultAgent overrides the built-in default agent name.
	DefaultAgent string `yaml:"defaultAgent,omitempty"`

	// Agents defined inline in the project file.
	Agents []models.AgentDefinition `yaml:"agents,omitempty"`

	// AgentFolders are directories scanned for per-agent *.yaml files,
	// relative to the project root.
	AgentFolders []string `yaml:"agentFolders,omitempty"`

	// MCPServers to spawn for this project.
	MCPServers []mcp.ServerConfig `yaml:"mcpServers,omitempty"`

	// PromptChains are named multi-step prompt sequences.
	PromptChains map[string]PromptChain `yaml:"promptChains,omitempty"`

	// Scheduled runs prompts on cron schedules.
	Scheduled []ScheduledRun `yaml:"scheduled,omitempty"`
}

// PromptChain expands one user command into an ordered prompt sequence.
// PROMPT placeholders in each step receive the command's argument text.
type PromptChain struct {
	Description string   `yaml:"description,omitempty"`
	Commands    []string `yaml:"commands"`
}

// Expand substitutes the argument text into each step.
func (p PromptChain) Expand(arg string) []string {
	out := make([]string, 0, len(p.Commands))
	for _, cmd := range p.Commands {
		out = append(out, strings.ReplaceAll(cmd, "PROMPT", arg))
	}
	return out
}

// ScheduledRun is one cron-scheduled prompt.
type ScheduledRun struct {
	// ID names the schedule in logs and events.
	ID string `yaml:"id"`

	// Cron is a 5-field cron expression, evaluated in UTC.
	Cron string `yaml:"cron"`

	// Agent to run; empty uses the default agent.
	Agent string `yaml:"agent,omitempty"`

	// Prompt submitted when the schedule fires.
	Prompt string `yaml:"prompt"`
}

// ProviderCredentials configures access to one model provider.
type ProviderCredentials struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// UserConfig is the per-user user.yml.
type UserConfig struct {
	// Providers maps provider names to credentials.
	Providers map[string]ProviderCredentials `yaml:"providers,omitempty"`

	// Projects maps project names to their root directories.
	Projects map[string]string `yaml:"projects,omitempty"`

	// PreferredAgents maps project names to the agent that should answer
	// when the thread has no last speaker.
	PreferredAgents map[string]string `yaml:"preferredAgents,omitempty"`

	// DefaultProject is selected at startup when set.
	DefaultProject string `yaml:"defaultProject,omitempty"`
}

// Validate checks invariants that would otherwise fail deep in a run.
func (c *ProjectConfig) Validate() error {
	seen := map[string]bool{}
	for _, a := range c.Agents {
		name := strings.ToLower(a.Name)
		if name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[name] = true
	}
	for name, chain := range c.PromptChains {
		if len(chain.Commands) == 0 {
			return fmt.Errorf("prompt chain %q has no commands", name)
		}
	}
	for _, s := range c.Scheduled {
		if s.Cron == "" || s.Prompt == "" {
			return fmt.Errorf("scheduled run %q needs cron and prompt", s.ID)
		}
	}
	for _, srv := range c.MCPServers {
		if srv.ID == "" || srv.Command == "" {
			return fmt.Errorf("mcp server needs id and command")
		}
	}
	return nil
}
