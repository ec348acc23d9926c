package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/coday/internal/memory"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/pkg/models"
)

func emptyToolSet(t *testing.T) *tools.ToolSet {
	t.Helper()
	ts, err := tools.NewToolSet(context.Background(), nil, tools.AllowAll)
	if err != nil {
		t.Fatalf("NewToolSet: %v", err)
	}
	return ts
}

func TestSystemPromptComposition(t *testing.T) {
	def := &models.AgentDefinition{
		Name:         "archie",
		Instructions: "You review architecture decisions.",
	}
	env := PromptEnv{
		ProjectName:        "coday",
		ProjectDescription: "A multi-agent orchestrator.",
		Memories: []memory.Memory{
			{Title: "editor", Content: "Prefers neovim.", Level: memory.LevelUser},
			{Title: "style", Content: "Tabs, not spaces.", Level: memory.LevelProject},
		},
		Docs:             []Doc{{Path: "docs/arch.md", Content: "Event bus fans out."}},
		OptionalDocPaths: []string{"docs/deploy.md"},
	}
	ag := New(def, nil, emptyToolSet(t), env)
	prompt := ag.SystemPrompt()

	for _, want := range []string{
		"You review architecture decisions.",
		"## Project",
		"Name: coday",
		"A multi-agent orchestrator.",
		"### About the user",
		"- editor: Prefers neovim.",
		"### About this project",
		"- style: Tabs, not spaces.",
		"## Document: docs/arch.md",
		"Event bus fans out.",
		"## Available documents",
		"- docs/deploy.md",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n%s", want, prompt)
		}
	}
	if !strings.HasPrefix(prompt, "You review architecture decisions.") {
		t.Error("instructions must lead the prompt")
	}
}

func TestSystemPromptDefaults(t *testing.T) {
	ag := New(&models.AgentDefinition{Name: "coday"}, nil, emptyToolSet(t), PromptEnv{})
	prompt := ag.SystemPrompt()
	if prompt != "You are coday, a helpful software collaborator." {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestSystemPromptOmitsEmptySections(t *testing.T) {
	ag := New(&models.AgentDefinition{Name: "coday"}, nil, emptyToolSet(t), PromptEnv{
		ProjectName: "coday", // no description: section stays out
	})
	prompt := ag.SystemPrompt()
	for _, banned := range []string{"## Project", "## Memories", "## Document"} {
		if strings.Contains(prompt, banned) {
			t.Errorf("prompt has empty section %q\n%s", banned, prompt)
		}
	}
}

func TestRequestCarriesDefinition(t *testing.T) {
	temp := 0.2
	def := &models.AgentDefinition{
		Name:        "tester",
		ModelName:   "claude-sonnet-4-5",
		Temperature: &temp,
		MaxTokens:   512,
	}
	ag := New(def, nil, emptyToolSet(t), PromptEnv{})

	msgs := []model.Message{{Role: model.RoleUser, Content: "hi"}}
	req := ag.Request(msgs)
	if req.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if req.MaxTokens != 512 {
		t.Errorf("max tokens = %d", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.System == "" {
		t.Error("empty system prompt")
	}
}
