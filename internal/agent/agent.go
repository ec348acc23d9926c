// Package agent composes agent definitions with model clients and tool
// sets, and drives the agentic run loop.
package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/coday/internal/memory"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/pkg/models"
)

// Doc is a document injected into an agent's system prompt.
type Doc struct {
	Path    string
	Content string
}

// PromptEnv carries the run environment woven into every system prompt.
type PromptEnv struct {
	ProjectName        string
	ProjectDescription string
	Memories           []memory.Memory

	// Docs are inlined into the prompt.
	Docs []Doc

	// OptionalDocPaths are listed for on-demand reading via the file
	// tools, keeping the prompt small.
	OptionalDocPaths []string
}

// Agent binds one definition to its model client and tool set.
type Agent struct {
	def     *models.AgentDefinition
	client  model.Client
	toolset *tools.ToolSet
	env     PromptEnv
}

// New assembles an agent.
func New(def *models.AgentDefinition, client model.Client, toolset *tools.ToolSet, env PromptEnv) *Agent {
	return &Agent{def: def, client: client, toolset: toolset, env: env}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.def.Name }

// Definition returns the underlying definition.
func (a *Agent) Definition() *models.AgentDefinition { return a.def }

// Client returns the model client.
func (a *Agent) Client() model.Client { return a.client }

// ToolSet returns the agent's tool surface.
func (a *Agent) ToolSet() *tools.ToolSet { return a.toolset }

// SystemPrompt composes the full system prompt: instructions, project
// context, memories, then mandatory docs.
func (a *Agent) SystemPrompt() string {
	var b strings.Builder

	instructions := strings.TrimSpace(a.def.Instructions)
	if instructions == "" {
		instructions = fmt.Sprintf("You are %s, a helpful software collaborator.", a.def.Name)
	}
	b.WriteString(instructions)

	if a.env.ProjectDescription != "" {
		b.WriteString("\n\n## Project\n")
		if a.env.ProjectName != "" {
			fmt.Fprintf(&b, "Name: %s\n", a.env.ProjectName)
		}
		b.WriteString(strings.TrimSpace(a.env.ProjectDescription))
	}

	if user, project := splitMemories(a.env.Memories); len(user)+len(project) > 0 {
		b.WriteString("\n\n## Memories")
		if len(user) > 0 {
			b.WriteString("\n### About the user\n")
			writeMemories(&b, user)
		}
		if len(project) > 0 {
			b.WriteString("\n### About this project\n")
			writeMemories(&b, project)
		}
	}

	for _, doc := range a.env.Docs {
		fmt.Fprintf(&b, "\n\n## Document: %s\n%s", doc.Path, strings.TrimSpace(doc.Content))
	}

	if len(a.env.OptionalDocPaths) > 0 {
		b.WriteString("\n\n## Available documents\nRead these with the file tools when relevant:\n")
		for _, path := range a.env.OptionalDocPaths {
			fmt.Fprintf(&b, "- %s\n", path)
		}
	}

	return b.String()
}

func splitMemories(mems []memory.Memory) (user, project []memory.Memory) {
	for _, m := range mems {
		if m.Level == memory.LevelUser {
			user = append(user, m)
		} else {
			project = append(project, m)
		}
	}
	return user, project
}

func writeMemories(b *strings.Builder, mems []memory.Memory) {
	for _, m := range mems {
		fmt.Fprintf(b, "- %s: %s\n", m.Title, strings.TrimSpace(m.Content))
	}
}

// Request builds a completion request for the given transcript messages.
func (a *Agent) Request(messages []model.Message) *model.Request {
	return &model.Request{
		Model:       a.def.ModelName,
		System:      a.SystemPrompt(),
		Messages:    messages,
		Tools:       a.toolset.Definitions(),
		Temperature: a.def.Temperature,
		MaxTokens:   a.def.MaxTokens,
	}
}
