package model

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/haasonsaas/coday/pkg/models"
)

func TestFromEntries_PairsToolTraffic(t *testing.T) {
	entries := []models.ThreadEntry{
		{Kind: models.EntryUser, Speaker: "dev", Content: models.TextContent("list my files")},
		{Kind: models.EntryToolRequest, ToolName: "list_files", CallID: "c1", Args: json.RawMessage(`{}`)},
		{Kind: models.EntryToolResponse, CallID: "c1", Output: "a.txt"},
		{Kind: models.EntryAgent, AgentName: "coday", Content: models.TextContent("you have a.txt")},
	}

	msgs := FromEntries(entries)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "dev: list my files" {
		t.Errorf("msg[0] = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "c1" {
		t.Errorf("msg[1] = %+v", msgs[1])
	}
	if msgs[2].Role != RoleUser || len(msgs[2].ToolResults) != 1 || msgs[2].ToolResults[0].Content != "a.txt" {
		t.Errorf("msg[2] = %+v", msgs[2])
	}
	if msgs[3].Role != RoleAssistant || msgs[3].Content != "you have a.txt" {
		t.Errorf("msg[3] = %+v", msgs[3])
	}
}

func TestFromEntries_GroupsParallelCalls(t *testing.T) {
	entries := []models.ThreadEntry{
		{Kind: models.EntryUser, Content: models.TextContent("go")},
		{Kind: models.EntryAgent, AgentName: "coday", Content: models.TextContent("on it")},
		{Kind: models.EntryToolRequest, ToolName: "a", CallID: "c1", Args: json.RawMessage(`{}`)},
		{Kind: models.EntryToolRequest, ToolName: "b", CallID: "c2", Args: json.RawMessage(`{}`)},
		{Kind: models.EntryToolResponse, CallID: "c1", Output: "1"},
		{Kind: models.EntryToolResponse, CallID: "c2", Output: "2"},
	}

	msgs := FromEntries(entries)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3: %+v", len(msgs), msgs)
	}
	if len(msgs[1].ToolCalls) != 2 {
		t.Errorf("tool calls should ride the assistant turn, got %+v", msgs[1])
	}
	if len(msgs[2].ToolResults) != 2 {
		t.Errorf("tool results should share one user turn, got %+v", msgs[2])
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("status 529 overloaded"), true},
		{errors.New("502 bad gateway"), true},
		{&net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{errors.New("invalid api key"), false},
		{errors.New("model not found"), false},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, _, err := withRetry(t.Context(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid api key")
	})
	if err == nil || calls != 1 {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	start := time.Now()
	out, cancel, err := withRetry(t.Context(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("rate limit")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	defer cancel()
	if out != 42 || calls != 2 {
		t.Errorf("out = %d, calls = %d", out, calls)
	}
	if time.Since(start) < retryBaseDelay {
		t.Error("expected backoff before the second attempt")
	}
}

func TestFlattenTranscript(t *testing.T) {
	req := &Request{
		System: "You are terse.",
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "hi"},
		},
	}
	got := flattenTranscript(req)
	want := "You are terse.\n\nUser: hello\nAssistant: hi"
	if got != want {
		t.Errorf("flatten = %q, want %q", got, want)
	}
}

func TestFactory_CachesAndRejectsUnknownProvider(t *testing.T) {
	f := NewFactory(map[string]Credentials{
		"anthropic": {APIKey: "k1"},
		"openai":    {APIKey: "k2"},
	}, nil)
	defer f.CloseAll()

	def := &models.AgentDefinition{Name: "a", ModelProvider: "anthropic"}
	c1, err := f.ClientFor(def)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	c2, err := f.ClientFor(def)
	if err != nil {
		t.Fatalf("client again: %v", err)
	}
	if c1 != c2 {
		t.Error("factory should cache clients per provider")
	}

	hosted := &models.AgentDefinition{Name: "h", ModelProvider: "openai", AssistantID: "asst_123"}
	c3, err := f.ClientFor(hosted)
	if err != nil {
		t.Fatalf("assistant client: %v", err)
	}
	if c3 == c2 {
		t.Error("assistant client must not share the chat client")
	}

	if _, err := f.ClientFor(&models.AgentDefinition{Name: "x", ModelProvider: "martian"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestFactory_AssistantIDPinsProvider(t *testing.T) {
	f := NewFactory(map[string]Credentials{
		"anthropic": {APIKey: "k1"},
		"openai":    {APIKey: "k2"},
	}, nil)
	defer f.CloseAll()

	// Merged defaults often set anthropic; the assistant ID wins.
	def := &models.AgentDefinition{Name: "h", ModelProvider: "anthropic", AssistantID: "asst_123"}
	c, err := f.ClientFor(def)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if c.Name() != "openai-assistant" {
		t.Errorf("client = %q, want openai-assistant", c.Name())
	}

	same, err := f.ClientFor(&models.AgentDefinition{Name: "h2", ModelProvider: "openai", AssistantID: "asst_123"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if same != c {
		t.Error("identical assistant IDs should share one client regardless of declared provider")
	}

	other, err := f.ClientFor(&models.AgentDefinition{Name: "h3", AssistantID: "asst_456"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if other == c {
		t.Error("distinct assistant IDs must not share pending-run state")
	}
}
