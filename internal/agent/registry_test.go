package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/internal/tools"
	"github.com/haasonsaas/coday/pkg/models"
)

func writeProjectFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func countingBuild(builds *atomic.Int32) BuildFunc {
	return func(ctx context.Context, def *models.AgentDefinition) (*Agent, error) {
		builds.Add(1)
		ts, err := tools.NewToolSet(ctx, nil, tools.AllowAll)
		if err != nil {
			return nil, err
		}
		return New(def, &scriptedClient{scripts: [][]*model.Chunk{{}}}, ts, PromptEnv{}), nil
	}
}

func TestRegistryDiscoveryOrder(t *testing.T) {
	root := writeProjectFiles(t, map[string]string{
		"coday.yaml": `
description: demo
agents:
  - name: Archie
    description: Architecture reviews.
`,
		"agents/archie.yaml": `
name: archie
description: Shadowed by the project file.
`,
		"agents/dev.yaml": `
name: dev
description: Writes code.
`,
	})
	var builds atomic.Int32
	reg := NewRegistry(root, countingBuild(&builds), nil)
	defer reg.Close()

	names, err := reg.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	// Inline archie first, folder dev second, synthesized default last.
	want := []string{"archie", "dev", "coday"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	ag, err := reg.Get(context.Background(), "ARCHIE")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ag.Definition().Description != "Architecture reviews." {
		t.Fatalf("project file must win the name clash: %+v", ag.Definition())
	}
	if ag.Definition().ModelProvider != "anthropic" {
		t.Fatalf("defaults not merged: %+v", ag.Definition())
	}
}

func TestRegistryMemoisesBuilds(t *testing.T) {
	root := writeProjectFiles(t, map[string]string{"coday.yaml": "description: demo\n"})
	var builds atomic.Int32
	reg := NewRegistry(root, countingBuild(&builds), nil)
	defer reg.Close()

	for i := 0; i < 3; i++ {
		if _, err := reg.Get(context.Background(), "coday"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if n := builds.Load(); n != 1 {
		t.Fatalf("builds = %d, want 1", n)
	}

	reg.Invalidate()
	if _, err := reg.Get(context.Background(), "coday"); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if n := builds.Load(); n != 2 {
		t.Fatalf("builds after invalidate = %d, want 2", n)
	}
}

func TestRegistryFindByPrefix(t *testing.T) {
	root := writeProjectFiles(t, map[string]string{
		"coday.yaml": `
agents:
  - name: developer
  - name: devops
  - name: reviewer
`,
	})
	var builds atomic.Int32
	reg := NewRegistry(root, countingBuild(&builds), nil)
	defer reg.Close()
	ctx := context.Background()

	if ag, err := reg.FindByPrefix(ctx, "rev"); err != nil || ag.Name() != "reviewer" {
		t.Fatalf("FindByPrefix(rev) = %v, %v", ag, err)
	}
	// Exact name beats being a prefix of another.
	if ag, err := reg.FindByPrefix(ctx, "developer"); err != nil || ag.Name() != "developer" {
		t.Fatalf("FindByPrefix(developer) = %v, %v", ag, err)
	}
	if _, err := reg.FindByPrefix(ctx, "dev"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("FindByPrefix(dev) err = %v, want ambiguous", err)
	}
	if _, err := reg.FindByPrefix(ctx, "zzz"); err == nil {
		t.Fatal("FindByPrefix(zzz) should fail")
	}
}

func TestRegistryPreferredFor(t *testing.T) {
	root := writeProjectFiles(t, map[string]string{
		"coday.yaml": `
defaultAgent: developer
agents:
  - name: developer
  - name: reviewer
`,
	})
	var builds atomic.Int32
	reg := NewRegistry(root, countingBuild(&builds), nil)
	defer reg.Close()
	ctx := context.Background()

	th := thread.New()
	ag, err := reg.PreferredFor(ctx, th)
	if err != nil || ag.Name() != "developer" {
		t.Fatalf("PreferredFor(empty) = %v, %v", ag, err)
	}

	mustAppendEntry(t, th, models.ThreadEntry{
		Kind: models.EntryUser, Speaker: "dev", Content: models.TextContent("hi"),
	})
	mustAppendEntry(t, th, models.ThreadEntry{
		Kind: models.EntryAgent, AgentName: "reviewer", Content: models.TextContent("hello"),
	})
	ag, err = reg.PreferredFor(ctx, th)
	if err != nil || ag.Name() != "reviewer" {
		t.Fatalf("PreferredFor(after reviewer) = %v, %v", ag, err)
	}
}

func TestRegistryUserPreferredAgent(t *testing.T) {
	root := writeProjectFiles(t, map[string]string{
		"coday.yaml": `
defaultAgent: developer
agents:
  - name: developer
  - name: reviewer
`,
	})
	var builds atomic.Int32
	reg := NewRegistry(root, countingBuild(&builds), nil)
	defer reg.Close()
	ctx := context.Background()

	// The user's per-project pick beats the project default on a fresh
	// thread.
	reg.SetUserPreferred("Reviewer")
	th := thread.New()
	ag, err := reg.PreferredFor(ctx, th)
	if err != nil || ag.Name() != "reviewer" {
		t.Fatalf("PreferredFor(empty) = %v, %v", ag, err)
	}

	// The thread's last speaker still wins over the preference.
	mustAppendEntry(t, th, models.ThreadEntry{
		Kind: models.EntryUser, Speaker: "dev", Content: models.TextContent("hi"),
	})
	mustAppendEntry(t, th, models.ThreadEntry{
		Kind: models.EntryAgent, AgentName: "developer", Content: models.TextContent("hello"),
	})
	ag, err = reg.PreferredFor(ctx, th)
	if err != nil || ag.Name() != "developer" {
		t.Fatalf("PreferredFor(after developer) = %v, %v", ag, err)
	}

	// An unknown preference falls back to the project default.
	reg.SetUserPreferred("ghost")
	ag, err = reg.PreferredFor(ctx, thread.New())
	if err != nil || ag.Name() != "developer" {
		t.Fatalf("PreferredFor(unknown preference) = %v, %v", ag, err)
	}
}

func mustAppendEntry(t *testing.T, th *thread.Thread, e models.ThreadEntry) {
	t.Helper()
	if _, err := th.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRegistryAgentNameFromFilename(t *testing.T) {
	root := writeProjectFiles(t, map[string]string{
		"agents/scribe.yaml": "description: Takes notes.\n",
	})
	var builds atomic.Int32
	reg := NewRegistry(root, countingBuild(&builds), nil)
	defer reg.Close()

	ag, err := reg.Get(context.Background(), "scribe")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ag.Definition().Description != "Takes notes." {
		t.Fatalf("definition = %+v", ag.Definition())
	}
}
