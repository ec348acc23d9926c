package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "coday.yaml"), `
description: A test project.
defaultAgent: archy
agents:
  - name: archy
    description: the architect
    modelProvider: anthropic
    modelName: claude-sonnet-4
    integrations:
      files: []
promptChains:
  review:
    description: two-pass review
    commands:
      - "Summarize: PROMPT"
      - "Critique the summary."
scheduled:
  - id: nightly
    cron: "0 3 * * *"
    prompt: "Report status."
mcpServers:
  - id: github
    command: github-mcp
`)

	cfg, err := LoadProject(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Description != "A test project." || cfg.DefaultAgent != "archy" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ModelName != "claude-sonnet-4" {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	chain := cfg.PromptChains["review"]
	got := chain.Expand("the plan")
	if got[0] != "Summarize: the plan" || got[1] != "Critique the summary." {
		t.Errorf("expand = %v", got)
	}
}

func TestLoadProject_MissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Agents) != 0 || cfg.Description != "" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadProject_RejectsDuplicateAgents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "coday.yaml"), `
agents:
  - name: dev
  - name: Dev
`)
	if _, err := LoadProject(root); err == nil || !strings.Contains(err.Error(), "duplicate agent") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadProject_RejectsUnknownFields(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "coday.yaml"), "descriptoin: typo\n")
	if _, err := LoadProject(root); err == nil {
		t.Error("unknown field should fail")
	}
}

func TestLoadRaw_IncludesAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODAY_TEST_KEY", "sk-123")
	writeFile(t, filepath.Join(dir, "base.yaml"), `
providers:
  openai:
    apiKey: ${CODAY_TEST_KEY}
`)
	writeFile(t, filepath.Join(dir, "user.yml"), `
$include: base.yaml
defaultProject: demo
providers:
  anthropic:
    apiKey: other
`)

	cfg, err := LoadUser(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultProject != "demo" {
		t.Errorf("defaultProject = %q", cfg.DefaultProject)
	}
	if cfg.Providers["openai"].APIKey != "sk-123" {
		t.Errorf("included provider = %+v", cfg.Providers)
	}
	if cfg.Providers["anthropic"].APIKey != "other" {
		t.Errorf("merged provider = %+v", cfg.Providers)
	}
}

func TestLoadRaw_DetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "$include: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "$include: a.yaml\n")
	if _, err := LoadRaw(filepath.Join(dir, "a.yaml")); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadRaw_JSON5(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cfg.json5"), `{
  // comments are fine in json5
  defaultProject: "demo",
}`)
	raw, err := LoadRaw(filepath.Join(dir, "cfg.json5"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if raw["defaultProject"] != "demo" {
		t.Errorf("raw = %+v", raw)
	}
}
