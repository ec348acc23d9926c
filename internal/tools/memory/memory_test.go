package memory

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	memstore "github.com/haasonsaas/coday/internal/memory"
	"github.com/haasonsaas/coday/internal/tools"
)

func buildTools(t *testing.T) map[string]tools.Tool {
	t.Helper()
	dir := t.TempDir()
	store := memstore.NewStore(filepath.Join(dir, "user.yaml"), filepath.Join(dir, "project.yaml"))
	list, err := NewSource(store).Tools(context.Background())
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	byName := make(map[string]tools.Tool, len(list))
	for _, tool := range list {
		byName[tool.Definition().Name] = tool
	}
	return byName
}

func TestMemorizeRecallForget(t *testing.T) {
	ts := buildTools(t)
	ctx := context.Background()

	out, err := ts["memorize"].Execute(ctx, json.RawMessage(`{"title":"build","content":"run make all","level":"PROJECT"}`))
	if err != nil {
		t.Fatalf("memorize: %v", err)
	}
	if !strings.Contains(out.(string), "build") {
		t.Errorf("memorize output = %v", out)
	}

	out, err = ts["recall_memories"].Execute(ctx, json.RawMessage(`{"title":"build"}`))
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(out.(string), "run make all") {
		t.Errorf("recall = %v", out)
	}

	out, err = ts["recall_memories"].Execute(ctx, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.(string), "[PROJECT] build") {
		t.Errorf("list = %v", out)
	}

	if _, err := ts["forget_memory"].Execute(ctx, json.RawMessage(`{"title":"build","level":"PROJECT"}`)); err != nil {
		t.Fatalf("forget: %v", err)
	}
	out, err = ts["recall_memories"].Execute(ctx, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("list after forget: %v", err)
	}
	if out != "No memories stored." {
		t.Errorf("list after forget = %v", out)
	}
}

func TestRecallUnknownTitle(t *testing.T) {
	ts := buildTools(t)
	if _, err := ts["recall_memories"].Execute(context.Background(), json.RawMessage(`{"title":"ghost"}`)); err == nil {
		t.Error("expected error for unknown title")
	}
}
